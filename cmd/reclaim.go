package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reclaimStaleAfter time.Duration

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return stale in-progress items to pending (one sweep)",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := st.Reclaim(cmd.Context(), reclaimStaleAfter)
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d stale item(s)\n", n)
		return nil
	},
}

var clearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Delete completed items from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := st.ClearCompleted(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d completed item(s)\n", n)
		return nil
	},
}

func init() {
	reclaimCmd.Flags().DurationVar(&reclaimStaleAfter, "stale-after", 30*time.Minute, "Lease staleness threshold")
	rootCmd.AddCommand(reclaimCmd)
	rootCmd.AddCommand(clearCompletedCmd)
}
