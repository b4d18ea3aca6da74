// Package cmd implements the jobwiz queue operator CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dave/jobwiz/pkg/database"
	"github.com/dave/jobwiz/pkg/observability"
	"github.com/dave/jobwiz/pkg/queue"
	"github.com/dave/jobwiz/pkg/sqlite"
)

var (
	dbPath      string
	databaseURL string

	st     queue.Store
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jobwiz-queue",
	Short: "Generation priority queue for jobwiz content workers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = observability.NewLogger()
		slog.SetDefault(logger)
		if st != nil {
			return nil
		}
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		st = s
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if st == nil {
			return nil
		}
		return st.Close()
	},
}

// openStore picks Postgres when a database URL is configured, otherwise
// the embedded SQLite store.
func openStore(ctx context.Context) (queue.Store, error) {
	url := databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url != "" {
		client, err := database.NewWithURL(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return client, nil
	}
	path := dbPath
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".jobwiz", "queue.db")
	}
	return sqlite.Open(path)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite DB (default $HOME/.jobwiz/queue.db)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default $DATABASE_URL; overrides --db)")
}
