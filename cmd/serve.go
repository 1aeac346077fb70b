package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/evalsa/sandbox-worker/config"
	"github.com/evalsa/sandbox-worker/logging"
	"github.com/evalsa/sandbox-worker/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start the MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// NewMCPServer creates and configures the MCP server with the execute tool
// registered, using cfg for language recipes, the sandbox profile, and
// default limits. cfg may be updated afterwards by config.Watch.
func NewMCPServer(cfg *atomic.Pointer[config.Config]) *server.MCPServer {
	s := server.NewMCPServer(
		"sandbox-worker",
		"0.1.0",
	)

	executeTool := mcp.NewTool(
		"execute",
		mcp.WithDescription("Compile (if needed) and run untrusted code in a confined sandbox, returning a structured verdict."),
		mcp.WithString("language",
			mcp.Description("Name of a configured language recipe, e.g. \"python3\" or \"cpp17\""),
			mcp.Required(),
		),
		mcp.WithString("code",
			mcp.Description("Source code to compile and/or run"),
			mcp.Required(),
		),
		mcp.WithString("stdin",
			mcp.Description("Optional standard input for the run phase"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Optional override of the configured default timeout, in milliseconds"),
		),
	)

	s.AddTool(executeTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		language, err := request.RequireString("language")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: language"), nil
		}
		code, err := request.RequireString("code")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: code"), nil
		}

		current := cfg.Load()
		recipe, ok := current.Recipe(language)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no language recipe named %q", language)), nil
		}

		var stdin string
		limits := current.DefaultLimits
		if args, ok := request.Params.Arguments.(map[string]any); ok {
			if v, ok := args["stdin"].(string); ok {
				stdin = v
			}
			if v, ok := args["timeout_ms"].(float64); ok && v > 0 {
				limits.TimeoutMs = int64(v)
			}
		}

		req := sandbox.LaunchRequest{
			Code:     []byte(code),
			Stdin:    []byte(stdin),
			Language: recipe,
			Sandbox:  current.Sandbox,
			Limits:   limits,
		}

		outcome, err := (sandbox.Coordinator{}).Launch(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(outcome)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
	return s
}

func runServe() error {
	logging.Info("starting MCP server")

	cfg := &atomic.Pointer[config.Config]{}
	loaded, err := config.Load()
	if err != nil {
		logging.Errorf("failed to load config, starting with an empty language table", err)
		loaded = &config.Config{}
	}
	cfg.Store(loaded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := config.Watch(ctx, func(newCfg *config.Config) {
			cfg.Store(newCfg)
			logging.Info("reloaded config")
		})
		if err != nil && ctx.Err() == nil {
			logging.Errorf("config watcher failed", err)
		}
	}()

	s := NewMCPServer(cfg)
	return server.ServeStdio(s)
}
