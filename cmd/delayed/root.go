package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "delayed",
		Short:         "Delayed job dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", getenv("DELAYED_LOG_LEVEL", "info"), "debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", getenv("DELAYED_LOG_FORMAT", "text"), "text or json")

	cmd.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newEnqueueCmd(),
		newGetCmd(),
		newRunCmd(),
		newSweepCmd(),
		newStatsCmd(),
		newWatchCmd(flags),
	)
	return cmd
}

func (f *rootFlags) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(f.logFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// getenv returns the environment variable key, or fallback when unset.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
