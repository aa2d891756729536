// Package cli is the operator command line: ingest files into a local SQLite
// store, inspect their status and ask questions against them.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docground/internal/app"
	"github.com/markdave123-py/docground/internal/config"
	"github.com/markdave123-py/docground/internal/core/database/sqlite"
)

var (
	dbPath    string
	sessionID string
)

// openComponents builds the pipeline for one command run. Tests replace it.
var openComponents = func(ctx context.Context) (*app.Components, error) {
	cfg := config.LoadConfig()
	cfg.StoreDriver = config.StoreDriverSQLite
	if dbPath != "" {
		cfg.SQLitePath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	objects, err := app.OpenObjectClient(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app.Build(ctx, cfg, store, objects)
}

var rootCmd = &cobra.Command{
	Use:   "docground",
	Short: "Ground chat answers in your documents",
	Long: `docground extracts, chunks and embeds documents into a local store
and answers questions with the passages that support them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default $SQLITE_PATH or docground.db)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "cli", "session the documents belong to")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
