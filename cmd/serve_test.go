package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/evalsa/sandbox-worker/config"
	"github.com/evalsa/sandbox-worker/sandbox"
)

// TestMain lets this test binary stand in for the worker binary: the execute
// tool's run phase re-execs os.Executable() with the run-child argument,
// which under go test is this binary, so that invocation is dispatched to
// sandbox.RunChildEntrypoint.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "run-child" {
		os.Exit(sandbox.RunChildEntrypoint())
	}
	os.Exit(m.Run())
}

// canUnprivilegedUserNamespaces mirrors sandbox's own probe (unexported
// there) since the execute tool's run phase needs the same capability this
// package's tests do.
func canUnprivilegedUserNamespaces(t *testing.T) bool {
	t.Helper()
	cmd := exec.Command("/bin/true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		},
		GidMappingsEnableSetgroups: false,
	}
	return cmd.Run() == nil
}

func requireUserNamespaces(t *testing.T) {
	t.Helper()
	if !canUnprivilegedUserNamespaces(t) {
		t.Skip("unprivileged user namespaces are not available in this environment")
	}
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("bind mounts require real root on the host; skipping")
	}
}

func hostLibMounts() []sandbox.Mount {
	candidates := []string{"/bin", "/lib", "/lib64", "/usr/lib", "/usr/bin"}
	var mounts []sandbox.Mount
	for _, dir := range candidates {
		if _, err := os.Stat(dir); err == nil {
			mounts = append(mounts, sandbox.Mount{HostSource: dir, SandboxDestination: dir})
		}
	}
	return mounts
}

func setupClient(t *testing.T, languages map[string]sandbox.LanguageRecipe) *client.Client {
	t.Helper()
	ctx := context.Background()

	cfg := &atomic.Pointer[config.Config]{}
	cfg.Store(&config.Config{
		Languages:     languages,
		Sandbox:       sandbox.SandboxProfile{Mounts: hostLibMounts()},
		DefaultLimits: sandbox.LaunchLimits{TimeoutMs: 2000, MaxVirtualMemoryBytes: 256 << 20},
	})

	s := NewMCPServer(cfg)
	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("failed to create in-process client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "test-client",
				Version: "0.0.1",
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	return c
}

func TestListTools(t *testing.T) {
	c := setupClient(t, nil)
	ctx := context.Background()

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools.Tools))
	}
	if tools.Tools[0].Name != "execute" {
		t.Fatalf("expected tool name 'execute', got %q", tools.Tools[0].Name)
	}
}

func TestExecuteTool_UnknownLanguage(t *testing.T) {
	c := setupClient(t, nil)
	ctx := context.Background()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "execute",
			Arguments: map[string]any{"language": "nope", "code": "irrelevant"},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for an unconfigured language")
	}
}

func TestExecuteTool_MissingCode(t *testing.T) {
	c := setupClient(t, map[string]sandbox.LanguageRecipe{
		"cat": {Name: "cat", SourceFilename: "ignored.txt", ExecutePath: "/bin/cat"},
	})
	ctx := context.Background()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "execute",
			Arguments: map[string]any{"language": "cat"},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing code")
	}
}

// TestExecuteTool_Success runs a real job through the MCP tool end to end,
// the same way the teacher's TestBashSandboxedTool_Success exercises its
// "bash" tool — except here the run phase actually chroots into fresh
// namespaces, so it skips where that is unavailable.
func TestExecuteTool_Success(t *testing.T) {
	requireRoot(t)
	requireUserNamespaces(t)

	c := setupClient(t, map[string]sandbox.LanguageRecipe{
		"cat": {Name: "cat", SourceFilename: "ignored.txt", ExecutePath: "/bin/cat"},
	})
	ctx := context.Background()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "execute",
			Arguments: map[string]any{
				"language": "cat",
				"code":     "ignored",
				"stdin":    "hello",
			},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %+v", result.Content)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var outcome sandbox.LaunchOutcome
	if err := json.Unmarshal([]byte(text.Text), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Status.Tag != sandbox.StatusExit || outcome.Status.ExitCode != 0 {
		t.Fatalf("status = %v, want Exit(0); stderr = %s", outcome.Status, outcome.Stderr)
	}
	if string(outcome.Stdout) != "hello" {
		t.Errorf("stdout = %q, want %q", outcome.Stdout, "hello")
	}
}

// TestExecuteTool_TimeoutOverride covers the optional timeout_ms override,
// mirroring the teacher's TestBashSandboxedTool_Timeout.
func TestExecuteTool_TimeoutOverride(t *testing.T) {
	requireRoot(t)
	requireUserNamespaces(t)

	c := setupClient(t, map[string]sandbox.LanguageRecipe{
		"sh": {Name: "sh", SourceFilename: "ignored.txt", ExecutePath: "/bin/sh",
			ExecuteArgs: []string{"-c", "while true; do :; done"}},
	})
	ctx := context.Background()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "execute",
			Arguments: map[string]any{
				"language":   "sh",
				"code":       "ignored",
				"timeout_ms": 100.0,
			},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %+v", result.Content)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var outcome sandbox.LaunchOutcome
	if err := json.Unmarshal([]byte(text.Text), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Status.Tag != sandbox.StatusTimeLimitExceeded {
		t.Fatalf("status = %v, want %s", outcome.Status, sandbox.StatusTimeLimitExceeded)
	}
}
