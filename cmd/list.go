package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dave/jobwiz/pkg/queue"
)

var (
	listStatus string
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := queue.Status(listStatus)
		if listStatus != "" && !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		items, err := st.List(cmd.Context(), status, listLimit, listOffset)
		if err != nil {
			return err
		}
		for _, it := range items {
			line := fmt.Sprintf("%-36s  %-30s  score=%-4d  %-12s  retries=%d/%d",
				it.ID, it.Key, it.PriorityScore, it.Status, it.RetryCount, it.MaxRetries)
			if it.ErrorMessage != "" {
				line += "  error=" + it.ErrorMessage
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|in_progress|completed|failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Page size")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Page offset")
	rootCmd.AddCommand(listCmd)
}
