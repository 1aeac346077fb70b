package sandbox

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestBuildCompileCmd(t *testing.T) {
	ws, err := newWorkspace(LanguageRecipe{Name: "t", SourceFilename: "a.c", ExecutePath: "/bin/true"}, nil, nil)
	if err != nil {
		t.Fatalf("newWorkspace: %v", err)
	}
	defer ws.destroy()

	var stderr bytes.Buffer
	cmd := buildCompileCmd(ws, "gcc -o out a.c", &stderr)
	if cmd.Dir != ws.root() {
		t.Errorf("Dir = %q, want %q", cmd.Dir, ws.root())
	}
	if cmd.Stdout != nil {
		t.Error("expected compile-phase stdout to be discarded (nil)")
	}
	if len(cmd.Env) == 0 {
		t.Error("expected compile phase to inherit the parent environment")
	}
}

func TestBuildRunCmdWritesManifestAndSysProcAttr(t *testing.T) {
	ws, err := newWorkspace(LanguageRecipe{Name: "t", SourceFilename: "a.py", ExecutePath: "/usr/bin/python3"}, nil, nil)
	if err != nil {
		t.Fatalf("newWorkspace: %v", err)
	}
	defer ws.destroy()

	recipe := LanguageRecipe{ExecutePath: "/usr/bin/python3", ExecuteArgs: []string{"a.py"}}
	limits := LaunchLimits{TimeoutMs: 1000, MaxVirtualMemoryBytes: 256 << 20, MaxProcesses: 4}

	var stdout, stderr bytes.Buffer
	cmd, err := buildRunCmd(ws, recipe, limits, &stdout, &stderr)
	if err != nil {
		t.Fatalf("buildRunCmd: %v", err)
	}

	if cmd.SysProcAttr == nil {
		t.Fatal("expected SysProcAttr to be set")
	}
	wantFlags := uintptr(syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET)
	if cmd.SysProcAttr.Cloneflags&wantFlags != wantFlags {
		t.Error("expected Cloneflags to include CLONE_NEWUSER|CLONE_NEWNET")
	}
	if len(cmd.SysProcAttr.UidMappings) != 1 || len(cmd.SysProcAttr.GidMappings) != 1 {
		t.Error("expected exactly one uid/gid mapping entry")
	}
	if cmd.SysProcAttr.GidMappingsEnableSetgroups {
		t.Error("expected GidMappingsEnableSetgroups = false")
	}

	data, err := os.ReadFile(filepath.Join(ws.root(), manifestFilename))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest childManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.ExecutePath != recipe.ExecutePath {
		t.Errorf("manifest ExecutePath = %q, want %q", manifest.ExecutePath, recipe.ExecutePath)
	}
	if manifest.MaxProcesses != 4 {
		t.Errorf("manifest MaxProcesses = %d, want 4", manifest.MaxProcesses)
	}
}

func TestRunChildEntrypointEchoesStdinThroughChroot(t *testing.T) {
	requireRoot(t)
	requireUserNamespaces(t)

	ws, err := newWorkspace(LanguageRecipe{Name: "t", SourceFilename: "a.txt", ExecutePath: "/bin/cat"}, nil, []byte("hello from stdin"))
	if err != nil {
		t.Fatalf("newWorkspace: %v", err)
	}
	defer ws.destroy()

	// /bin/cat is dynamically linked: the chroot needs the host's runtime
	// library directories bind-mounted in, the same as a real language
	// recipe's sandbox profile would provide.
	candidates := []string{"/bin", "/lib", "/lib64", "/usr/lib"}
	var mountList []Mount
	for _, dir := range candidates {
		if _, err := os.Stat(dir); err == nil {
			mountList = append(mountList, Mount{HostSource: dir, SandboxDestination: dir})
		}
	}
	profile := SandboxProfile{Mounts: mountList}
	mounts := newMountOrchestrator(profile, ws.root())
	if err := mounts.apply(); err != nil {
		t.Fatalf("apply mounts: %v", err)
	}
	defer mounts.teardown()

	recipe := LanguageRecipe{ExecutePath: "/bin/cat"}
	limits := LaunchLimits{TimeoutMs: 2000, MaxVirtualMemoryBytes: 256 << 20}

	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer stdoutReader.Close()
	var stderr bytes.Buffer

	cmd, err := buildRunCmd(ws, recipe, limits, stdoutWriter, &stderr)
	if err != nil {
		t.Fatalf("buildRunCmd: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	stdoutWriter.Close()

	result, err := superviseDeadline(cmd.Process.Pid, limits.TimeoutMs)
	if err != nil {
		t.Fatalf("superviseDeadline: %v", err)
	}
	if !result.status.Exited() || result.status.ExitStatus() != 0 {
		t.Fatalf("status = %+v, want clean exit; stderr = %s", result.status, stderr.String())
	}

	stdout, err := collectStdout(stdoutReader)
	if err != nil {
		t.Fatalf("collectStdout: %v", err)
	}
	if string(stdout.data) != "hello from stdin" {
		t.Errorf("stdout = %q, want %q", stdout.data, "hello from stdin")
	}
}
