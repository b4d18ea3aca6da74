package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dave/jobwiz/pkg/observability"
	"github.com/dave/jobwiz/pkg/priority"
	"github.com/dave/jobwiz/pkg/queue"
)

var (
	enqueueScore int
	priorityFile string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <company-slug> [role-slug]",
	Short: "Enqueue a generation item (no-op if the pair already exists)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := queue.Key{CompanySlug: args[0]}
		if len(args) == 2 {
			key.RoleSlug = args[1]
		}

		var source priority.Source
		if priorityFile != "" {
			src, err := priority.LoadFile(priorityFile)
			if err != nil {
				return err
			}
			source = src
		}

		var override *int
		if cmd.Flags().Changed("score") {
			override = &enqueueScore
		}

		enq := queue.NewEnqueuer(st, source, logger)
		added, err := enq.Enqueue(cmd.Context(), key, override)
		if err != nil {
			return err
		}
		if added {
			observability.ItemsEnqueued.WithLabelValues("added").Inc()
			fmt.Printf("enqueued %s\n", key)
		} else {
			observability.ItemsEnqueued.WithLabelValues("skipped").Inc()
			fmt.Printf("skipped %s (already queued)\n", key)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Enqueue every entry from a ranked priority file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if priorityFile == "" {
			return fmt.Errorf("sync requires --priority-file")
		}
		source, err := priority.LoadFile(priorityFile)
		if err != nil {
			return err
		}
		enq := queue.NewEnqueuer(st, source, logger)
		res, err := enq.SyncFromSource(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("added=%d skipped=%d\n", res.Added, res.Skipped)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().IntVar(&enqueueScore, "score", 0, "Priority score override (wins over the priority file)")
	enqueueCmd.Flags().StringVar(&priorityFile, "priority-file", "", "Ranked JSON priority file for score lookup")
	syncCmd.Flags().StringVar(&priorityFile, "priority-file", "", "Ranked JSON priority file")
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(syncCmd)
}
