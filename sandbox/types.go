// Package sandbox is the execution core of the judge worker: it materialises
// a per-job workspace, bind-mounts a restricted read-only view, isolates the
// submitted program in fresh user/network namespaces, enforces resource
// limits and deadlines, and reports a structured verdict.
package sandbox

import "fmt"

// LanguageRecipe describes how to handle one language. It is opaque
// configuration handed to Launch by a collaborator (the language recipe
// file); the core never inspects recipe names beyond quoting them in
// validation errors.
type LanguageRecipe struct {
	// Name identifies the recipe, e.g. "cpp17", "python3".
	Name string `yaml:"name"`

	// SourceFilename is the path, relative to the workspace, where the
	// submitted code is written before compile/run.
	SourceFilename string `yaml:"source_filename"`

	// CompileCommand is a shell command run in the workspace before the run
	// phase. Empty for interpreted languages — no compile phase occurs.
	CompileCommand string `yaml:"compile_command,omitempty"`

	// ExecutePath is the absolute path of the interpreter or produced binary,
	// resolved inside the sandbox chroot.
	ExecutePath string `yaml:"execute_path"`

	// ExecuteArgs is the argument vector passed after argv[0].
	ExecuteArgs []string `yaml:"execute_args,omitempty"`
}

// Validate checks the recipe's structural invariants. It does not validate
// CompileCommand's shell syntax — see config.Load for that.
func (r LanguageRecipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("language recipe: name is required")
	}
	if r.SourceFilename == "" {
		return fmt.Errorf("language recipe %q: source_filename is required", r.Name)
	}
	if r.ExecutePath == "" {
		return fmt.Errorf("language recipe %q: execute_path is required", r.Name)
	}
	return nil
}

// Mount is one read-only bind mount applied into the workspace for the run
// phase: host_source shadows sandbox_destination inside the chroot.
type Mount struct {
	HostSource         string `yaml:"host_source"`
	SandboxDestination string `yaml:"sandbox_destination"`
}

// SandboxProfile describes the sandbox's static shape: the stack size
// reserved for the cloned child and the ordered list of read-only bind
// mounts applied before the run phase.
type SandboxProfile struct {
	// ChildStackBytes sizes the stack allocated for the cloned child.
	// Retained for fidelity with the spec's data model; Go's os/exec +
	// SysProcAttr.Cloneflags path (see child.go) manages the clone(2) stack
	// internally and does not expose a stack-size knob, so this field is
	// validated but otherwise unused.
	ChildStackBytes int64 `yaml:"child_stack_bytes,omitempty"`

	// Mounts is applied in order before the run phase and unmounted (any
	// order) after, regardless of verdict.
	Mounts []Mount `yaml:"mounts"`
}

func (p SandboxProfile) Validate() error {
	if p.ChildStackBytes < 0 {
		return fmt.Errorf("sandbox profile: child_stack_bytes must be >= 0")
	}
	for i, m := range p.Mounts {
		if m.HostSource == "" || m.SandboxDestination == "" {
			return fmt.Errorf("sandbox profile: mount %d missing host_source or sandbox_destination", i)
		}
	}
	return nil
}

// LaunchLimits bounds one job's resource envelope.
type LaunchLimits struct {
	TimeoutMs             int64 `yaml:"timeout_ms"`
	MaxVirtualMemoryBytes int64 `yaml:"max_virtual_memory_bytes"`

	// MaxProcesses caps the run-phase child's RLIMIT_NPROC. Zero defaults to
	// 1 (the submitted program may not fork). Grounded on original_source's
	// evalsa-worker LaunchOption.proc_count; see SPEC_FULL.md §3.
	MaxProcesses int64 `yaml:"max_processes,omitempty"`
}

func (l LaunchLimits) Validate() error {
	if l.TimeoutMs <= 0 {
		return fmt.Errorf("launch limits: timeout_ms must be > 0")
	}
	if l.MaxVirtualMemoryBytes <= 0 {
		return fmt.Errorf("launch limits: max_virtual_memory_bytes must be > 0")
	}
	return nil
}

func (l LaunchLimits) maxProcesses() int64 {
	if l.MaxProcesses <= 0 {
		return 1
	}
	return l.MaxProcesses
}

// LaunchRequest is one job submission.
type LaunchRequest struct {
	Code     []byte
	Stdin    []byte
	Language LanguageRecipe
	Sandbox  SandboxProfile
	Limits   LaunchLimits
}

// StatusTag is the tagged-variant discriminator of LaunchOutcome.Status.
type StatusTag string

const (
	StatusExit                StatusTag = "exit"
	StatusCompilationError    StatusTag = "compilation_error"
	StatusRuntimeError        StatusTag = "runtime_error"
	StatusOutputLimitExceeded StatusTag = "output_limit_exceeded"
	StatusTimeLimitExceeded   StatusTag = "time_limit_exceeded"
)

// Status is the tagged verdict. Exactly one tag is meaningful per outcome;
// ExitCode is only populated when Tag == StatusExit.
type Status struct {
	Tag      StatusTag
	ExitCode int
}

func (s Status) String() string {
	if s.Tag == StatusExit {
		return fmt.Sprintf("Exit(%d)", s.ExitCode)
	}
	return string(s.Tag)
}

// LaunchOutcome is the result of one Launch call.
type LaunchOutcome struct {
	JobID  string
	Status Status

	Stdout []byte
	Stderr []byte

	MemoryKiB  int64
	UserTimeMs int64
}
