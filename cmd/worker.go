package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dave/jobwiz/pkg/observability"
	"github.com/dave/jobwiz/pkg/queue"
	"github.com/dave/jobwiz/pkg/worker"
)

var (
	workerConcurrency  int
	workerPollInterval time.Duration
	workerStaleAfter   time.Duration
	workerReclaimEvery time.Duration
	workerGeneratorCmd string
	workerMetricsAddr  string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run claim/generate/report worker loops plus the lease reclaimer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if workerGeneratorCmd == "" {
			return fmt.Errorf("worker requires --generator-cmd")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workerMetricsAddr != "" {
			observability.StartMetricsServer(workerMetricsAddr)
		}

		gen := execGenerator(workerGeneratorCmd)

		var wg sync.WaitGroup
		for i := 0; i < workerConcurrency; i++ {
			w := worker.New(st, gen, worker.Config{
				PollInterval: workerPollInterval,
				Logger:       logger,
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}

		reclaimer := worker.NewReclaimer(st, workerReclaimEvery, workerStaleAfter, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reclaimer.Run(ctx)
		}()

		logger.Info("all workers started, waiting for items", "concurrency", workerConcurrency)
		<-ctx.Done()
		logger.Info("shutdown signal received, stopping workers")
		wg.Wait()
		logger.Info("all workers stopped gracefully")
		return nil
	},
}

// execGenerator shells out to the configured generator command with the
// company and role slugs appended as arguments. The command's trimmed
// stdout is the result reference; a non-zero exit is a generation failure.
func execGenerator(command string) worker.Generator {
	return worker.GeneratorFunc(func(ctx context.Context, key queue.Key) (string, error) {
		c := exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("%s %q %q", command, key.CompanySlug, key.RoleSlug))
		out, err := c.Output()
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
				return "", fmt.Errorf("generator exited: %s", strings.TrimSpace(string(ee.Stderr)))
			}
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	})
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 1, "Number of concurrent claim loops")
	workerCmd.Flags().DurationVar(&workerPollInterval, "poll-interval", 2*time.Second, "Sleep between idle claims")
	workerCmd.Flags().DurationVar(&workerStaleAfter, "stale-after", 30*time.Minute, "Lease staleness threshold")
	workerCmd.Flags().DurationVar(&workerReclaimEvery, "reclaim-interval", time.Minute, "How often the reclaimer sweeps")
	workerCmd.Flags().StringVar(&workerGeneratorCmd, "generator-cmd", "", "Command invoked per claimed item: <cmd> <company> <role>")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9091)")
	rootCmd.AddCommand(workerCmd)
}
