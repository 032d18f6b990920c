package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modbot/internal/app"
	"modbot/internal/errs"

	"github.com/spf13/cobra"
)

const programName = "modbot"

var globalFlags = struct {
	config string
}{}

// openApp builds the app for a one-shot command. An empty --config runs
// against defaults with an in-memory store.
func openApp(cmd *cobra.Command) (*app.App, error) {
	ctx := cmd.Context()
	if globalFlags.config == "" {
		return app.NewWithConfig(ctx, nil)
	}
	return app.New(ctx, globalFlags.config)
}

// withApp runs fn against an opened app and shuts it down afterwards so
// queued notices are flushed.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a.Open(ctx)
	runErr := fn(ctx, a)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, app.StopCommand); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrPastTime):
		return 2
	case errors.Is(err, errs.ErrNotFound):
		return 3
	case errors.Is(err, errs.ErrForbidden), errors.Is(err, errs.ErrBlocked),
		errors.Is(err, errs.ErrAlreadyTerminal), errors.Is(err, errs.ErrWindowExpired):
		return 4
	default:
		return 1
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Moderation bot reprimand and event lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().
		StringVarP(&globalFlags.config, "config", "c", "./config.json", "path to config file (json or yaml); empty uses defaults")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(sweepCommand())
	rootCmd.AddCommand(reprimandCommand())
	rootCmd.AddCommand(eventCommand())
	rootCmd.AddCommand(statsCommand())
	return rootCmd
}

func main() {
	rootCmd := newRootCommand()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(exitCode(err))
	}
}
