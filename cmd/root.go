package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evalsa/sandbox-worker/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "sandbox-worker",
	Short: "Compiles and runs untrusted code inside a confined Linux sandbox",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:      parseLogLevel(logLevel),
			JSONOutput: true,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")
}

// parseLogLevel converts a string level name to a logging.Level, defaulting
// to info for anything unrecognized.
func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.DebugLevel
	case "info":
		return logging.InfoLevel
	case "warn":
		return logging.WarnLevel
	case "error":
		return logging.ErrorLevel
	default:
		return logging.InfoLevel
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
