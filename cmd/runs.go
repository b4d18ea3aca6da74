package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent generation runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := st.RecentRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %-30s  %-10s  worker=%s  took=%s",
				r.RecordedAt.Format("2006-01-02 15:04:05"), r.Key, r.Outcome, r.WorkerID, r.Duration)
			if r.Error != "" {
				line += "  error=" + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
