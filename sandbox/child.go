package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// manifestFilename is written into the workspace root before the run-phase
// child is spawned and read back by the re-exec'd entrypoint once it is
// running inside the new namespaces but before chroot.
const manifestFilename = ".sandbox-manifest.json"

// childManifest is the run phase's handoff from the Child Launcher (running
// as the worker) to the re-exec'd entrypoint (running as the namespaced
// child, about to chroot and replace its own image).
type childManifest struct {
	ExecutePath           string   `json:"execute_path"`
	ExecuteArgs           []string `json:"execute_args"`
	MaxVirtualMemoryBytes int64    `json:"max_virtual_memory_bytes"`
	MaxProcesses          int64    `json:"max_processes"`
}

// buildCompileCmd builds the compile-phase child per spec.md §4.3: chdir
// into the workspace, stderr wired to the given pipe, stdout discarded,
// image replaced with /bin/bash -c compile_command, inheriting the parent
// environment. Compile runs in a plain workspace — no chroot, no namespaces;
// the toolchain needs host library access (spec.md §4.2, §4.3 rationale).
func buildCompileCmd(ws *workspace, compileCommand string, stderr io.Writer) *exec.Cmd {
	cmd := exec.Command("/bin/bash", "-c", compileCommand)
	cmd.Dir = ws.root()
	cmd.Env = os.Environ()
	cmd.Stdout = nil // compile-phase stdout is discarded, spec.md §9 open question
	cmd.Stderr = stderr
	return cmd
}

// buildRunCmd builds the run-phase child per spec.md §4.3. It writes the
// manifest the re-exec'd entrypoint needs, then launches this same binary
// under the hidden "run-child" subcommand inside fresh user and network
// namespaces. Root inside the user namespace (UID 0) is required so the
// entrypoint can chroot; it does not map to host root (spec.md §5).
func buildRunCmd(ws *workspace, recipe LanguageRecipe, limits LaunchLimits, stdout, stderr io.Writer) (*exec.Cmd, error) {
	manifest := childManifest{
		ExecutePath:           recipe.ExecutePath,
		ExecuteArgs:           recipe.ExecuteArgs,
		MaxVirtualMemoryBytes: limits.MaxVirtualMemoryBytes,
		MaxProcesses:          limits.maxProcesses(),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("child launcher: encode manifest: %w", err)
	}
	if err := ws.writeFile(manifestFilename, data); err != nil {
		return nil, fmt.Errorf("child launcher: write manifest: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("child launcher: resolve own executable: %w", err)
	}

	cmd := exec.Command(self, runChildArg)
	cmd.Dir = ws.root()
	cmd.Env = []string{}
	cmd.Stdin = nil // the run-child entrypoint opens /stdin itself, post-chroot
	cmd.Stdout = stdout
	cmd.Stderr = stderr
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
	return cmd, nil
}

// runChildArg is the hidden cobra subcommand name the Child Launcher re-execs
// itself under; defined here (rather than in cmd/) so buildRunCmd and the
// cobra command agree on the literal without an import cycle.
const runChildArg = "run-child"

// RunChildEntrypoint is the run-phase child's entire body, executed by the
// "run-child" hidden subcommand after clone(2) has already placed the
// process in fresh user/network namespaces (via the parent's SysProcAttr).
// It performs the ordered setup of spec.md §4.3 and ends in syscall.Exec,
// which replaces this process image outright — on success this function
// never returns. On any setup failure it writes the error to stderr (already
// wired to the Stream Collector's pipe) and returns a non-zero exit code for
// main to use, per "any step failure aborts the child with a non-zero exit".
func RunChildEntrypoint() int {
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "run-child: getwd: %v\n", err)
		return 1
	}

	manifestData, err := os.ReadFile(manifestFilename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run-child: read manifest: %v\n", err)
		return 1
	}
	var manifest childManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: decode manifest: %v\n", err)
		return 1
	}

	// Step 1: chdir(workspace) then chroot(workspace). The process is
	// already chdir'd into the workspace (exec.Cmd.Dir did that before this
	// image started); chroot needs the pre-chroot absolute path, which is
	// exactly workspaceRoot since cwd has not changed since Getwd above.
	if err := unix.Chroot(workspaceRoot); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: chroot: %v\n", err)
		return 1
	}
	// workspaceRoot is now "/" inside the new root; no further chdir needed.

	// Step 2: close fd 0, open /stdin read-only; by lowest-fd reuse it
	// becomes fd 0.
	if err := unix.Close(0); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: close stdin: %v\n", err)
		return 1
	}
	stdinFd, err := unix.Open("/"+stdinFilename, unix.O_RDONLY, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run-child: open /stdin: %v\n", err)
		return 1
	}
	if stdinFd != 0 {
		if err := unix.Dup2(stdinFd, 0); err != nil {
			fmt.Fprintf(os.Stderr, "run-child: dup2 stdin: %v\n", err)
			return 1
		}
		unix.Close(stdinFd)
	}

	// Steps 3 and 4 (close fd 1/2, dup the stdout/stderr pipes' write ends
	// onto them) were already performed by the kernel during fork+exec of
	// this process image, because the Child Launcher set cmd.Stdout/
	// cmd.Stderr to the Stream Collector's pipes when it built this command
	// (see buildRunCmd). There is no further action to take here.

	// Step 5: install resource limits.
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: setrlimit core: %v\n", err)
		return 1
	}
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: setrlimit fsize: %v\n", err)
		return 1
	}
	asLimit := uint64(manifest.MaxVirtualMemoryBytes)
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: asLimit, Max: asLimit}); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: setrlimit as: %v\n", err)
		return 1
	}
	nproc := uint64(manifest.MaxProcesses)
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: nproc, Max: nproc}); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: setrlimit nproc: %v\n", err)
		return 1
	}

	// Step 6: replace image with execute_path/execute_args, empty
	// environment.
	argv := append([]string{manifest.ExecutePath}, manifest.ExecuteArgs...)
	if err := unix.Exec(manifest.ExecutePath, argv, []string{}); err != nil {
		fmt.Fprintf(os.Stderr, "run-child: exec %s: %v\n", manifest.ExecutePath, err)
		return 1
	}
	panic("unreachable: exec replaced the process image")
}
