package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dave/jobwiz/pkg/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print item counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		counts, err := st.CountsByStatus(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d in_progress=%d completed=%d failed=%d total=%d\n",
			counts[queue.StatusPending], counts[queue.StatusInProgress],
			counts[queue.StatusCompleted], counts[queue.StatusFailed], counts.Total())
		return nil
	},
}

func init() { rootCmd.AddCommand(statusCmd) }
