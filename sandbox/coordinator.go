package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Coordinator sequences one job end to end: workspace, optional compile
// phase, mount, run phase, unmount, verdict, workspace teardown. The zero
// value is ready to use.
type Coordinator struct{}

// Launch runs req to completion and returns its outcome. A non-nil error
// means the worker itself failed to carry out the request (workspace,
// mount, or process-management failure) — distinct from a populated
// LaunchOutcome, which always means the job ran and produced a verdict
// (spec.md §7).
func (Coordinator) Launch(ctx context.Context, req LaunchRequest) (*LaunchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Language.Validate(); err != nil {
		return nil, err
	}
	if err := req.Sandbox.Validate(); err != nil {
		return nil, err
	}
	if err := req.Limits.Validate(); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()

	ws, err := newWorkspace(req.Language, req.Code, req.Stdin)
	if err != nil {
		return nil, err
	}
	defer ws.destroy()

	if req.Language.CompileCommand != "" {
		outcome, ok, err := runCompilePhase(jobID, ws, req.Language.CompileCommand, req.Limits.TimeoutMs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return outcome, nil
		}
	}

	mounts := newMountOrchestrator(req.Sandbox, ws.root())
	if err := mounts.apply(); err != nil {
		return nil, err
	}

	outcome, err := runPhase(jobID, ws, req.Language, req.Limits)
	if err != nil {
		mounts.teardown()
		return nil, err
	}

	if err := mounts.teardown(); err != nil {
		return nil, err
	}

	return outcome, nil
}

// runCompilePhase runs the compile child to completion. The bool return is
// false when compilation failed — the caller must stop and return the
// CompilationError outcome rather than proceeding to the run phase.
func runCompilePhase(jobID string, ws *workspace, compileCommand string, timeoutMs int64) (*LaunchOutcome, bool, error) {
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		return nil, false, fmt.Errorf("coordinator: compile stderr pipe: %w", err)
	}

	cmd := buildCompileCmd(ws, compileCommand, stderrWriter)
	if err := cmd.Start(); err != nil {
		stderrWriter.Close()
		stderrReader.Close()
		return nil, false, fmt.Errorf("coordinator: start compile child: %w", err)
	}
	stderrWriter.Close()

	type collectOutcome struct {
		stream collectedStream
		err    error
	}
	stderrCh := make(chan collectOutcome, 1)
	go func() {
		stream, err := collectStderr(stderrReader)
		stderrCh <- collectOutcome{stream, err}
		stderrReader.Close()
	}()

	result, err := superviseDeadline(cmd.Process.Pid, timeoutMs)
	if err != nil {
		return nil, false, fmt.Errorf("coordinator: supervise compile child: %w", err)
	}

	stderrResult := <-stderrCh
	if stderrResult.err != nil {
		return nil, false, stderrResult.err
	}

	if result.status.Exited() && result.status.ExitStatus() == 0 {
		return nil, true, nil
	}

	memoryKiB, userTimeMs := resourceUsage(result.rusage)
	return &LaunchOutcome{
		JobID:      jobID,
		Status:     Status{Tag: StatusCompilationError},
		Stderr:     stderrResult.stream.data,
		MemoryKiB:  memoryKiB,
		UserTimeMs: userTimeMs,
	}, false, nil
}

// runPhase runs the run-phase child (already mounted into its workspace) to
// completion and builds its verdict.
func runPhase(jobID string, ws *workspace, recipe LanguageRecipe, limits LaunchLimits) (*LaunchOutcome, error) {
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("coordinator: run stdout pipe: %w", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		return nil, fmt.Errorf("coordinator: run stderr pipe: %w", err)
	}

	cmd, err := buildRunCmd(ws, recipe, limits, stdoutWriter, stderrWriter)
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		stderrReader.Close()
		stderrWriter.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		stderrReader.Close()
		stderrWriter.Close()
		return nil, fmt.Errorf("coordinator: start run child: %w", err)
	}
	stdoutWriter.Close()
	stderrWriter.Close()

	type collectOutcome struct {
		stream collectedStream
		err    error
	}
	stdoutCh := make(chan collectOutcome, 1)
	stderrCh := make(chan collectOutcome, 1)
	go func() {
		stream, err := collectStdout(stdoutReader)
		stdoutCh <- collectOutcome{stream, err}
		stdoutReader.Close()
	}()
	go func() {
		stream, err := collectStderr(stderrReader)
		stderrCh <- collectOutcome{stream, err}
		stderrReader.Close()
	}()

	result, err := superviseDeadline(cmd.Process.Pid, limits.TimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("coordinator: supervise run child: %w", err)
	}

	stdoutResult := <-stdoutCh
	if stdoutResult.err != nil {
		return nil, stdoutResult.err
	}
	stderrResult := <-stderrCh
	if stderrResult.err != nil {
		return nil, stderrResult.err
	}

	status := buildVerdict(result, stdoutResult.stream)
	memoryKiB, userTimeMs := resourceUsage(result.rusage)

	return &LaunchOutcome{
		JobID:      jobID,
		Status:     status,
		Stdout:     stdoutResult.stream.data,
		Stderr:     stderrResult.stream.data,
		MemoryKiB:  memoryKiB,
		UserTimeMs: userTimeMs,
	}, nil
}
