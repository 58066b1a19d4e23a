package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/config"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "flowtrace",
	Short: "Session telemetry correlation and workflow understanding",
	Long: `flowtrace records what a user does across the browser, desktop
applications and bot logs, correlates it into one timeline per session,
infers the intent behind each step and turns repeated workflows into
automation prototypes.`,
	SilenceUsage: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if errors.Is(err, event.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "Run `flowtrace sessions` to list recorded sessions.")
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.FileName, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// newLogger writes text logs to stderr; stdout is kept for results and
// the MCP protocol.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
