package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/evalsa/sandbox-worker/config"
	"github.com/evalsa/sandbox-worker/sandbox"
)

var launchLanguage string

// launchInput mirrors sandbox.LaunchRequest's job-specific fields: the code
// and stdin bytes, plus an optional per-request limits override. Language,
// sandbox profile, and default limits come from the loaded config.
type launchInput struct {
	Code   string              `json:"code"`
	Stdin  string              `json:"stdin,omitempty"`
	Limits *sandbox.LaunchLimits `json:"limits,omitempty"`
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Run one job read as JSON from stdin and print its outcome as JSON",
	Long: "launch reads a launchInput JSON document from stdin, runs it against the " +
		"configured language recipe named by --language, and writes the resulting " +
		"LaunchOutcome as JSON to stdout. Intended for scripting and one-off testing; " +
		"serve-mcp is the long-running entrypoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLaunch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	launchCmd.Flags().StringVar(&launchLanguage, "language", "", "language recipe name (required)")
	launchCmd.MarkFlagRequired("language")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	recipe, ok := cfg.Recipe(launchLanguage)
	if !ok {
		return fmt.Errorf("launch: no language recipe named %q", launchLanguage)
	}

	var input launchInput
	if err := json.NewDecoder(in).Decode(&input); err != nil {
		return fmt.Errorf("launch: decode request: %w", err)
	}

	limits := cfg.DefaultLimits
	if input.Limits != nil {
		limits = *input.Limits
	}

	req := sandbox.LaunchRequest{
		Code:     []byte(input.Code),
		Stdin:    []byte(input.Stdin),
		Language: recipe,
		Sandbox:  cfg.Sandbox,
		Limits:   limits,
	}

	outcome, err := (sandbox.Coordinator{}).Launch(ctx, req)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcome)
}
