// Command crisisctl is the operator CLI for the crisis data service. It merges
// crisis rows onto country boundaries offline, runs ad hoc warehouse
// statements, and checks merged maps.
//
// Usage:
//
//	go run ./cmd/crisisctl merge --crises data/top_crises.json --out data/crisis_map.geojson
//	go run ./cmd/crisisctl query "SELECT * FROM main.default.top_crises LIMIT 5"
//	go run ./cmd/crisisctl validate data/crisis_map.geojson --crises data/top_crises.json
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/crisis-data-service/internal/config"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	EnvFile  string
	LogLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "crisisctl",
		Short:         "Operator tools for the crisis data service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", sharedcfg.EnvOrDefault("ENV_FILE", ".env"), "dotenv file read before the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(newMergeCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

// load reads configuration and builds a text logger on the command's error
// stream. Stdout carries command output only.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	provider, err := config.NewProvider(o.EnvFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q", o.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return provider.Current(), logger, nil
}
