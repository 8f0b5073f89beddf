// Command tenoris-import loads property, tenant, contract and transaction
// spreadsheets into the Tenoris360 backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/tenoris360-importer/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var errBackendNotConfigured = errors.New("backend is not configured")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the configuration shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "tenoris-import",
		Short:   "Import Excel and CSV spreadsheets into Tenoris360",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
			return nil
		},
	}

	rootCmd.AddCommand(
		newAnalyzeCommand(a),
		newRunCommand(a),
		newResumeCommand(a),
		newDiscardCommand(a),
		newStatusCommand(a),
		newJanitorCommand(a),
	)

	return rootCmd
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// dependencies builds the dependency graph for one command run
func (a *app) dependencies(ctx context.Context, opts dependencyOptions) (*Dependencies, error) {
	deps, err := InitDependencies(ctx, a.cfg, a.logger, opts)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return deps, nil
}
