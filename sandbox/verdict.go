package sandbox

import "golang.org/x/sys/unix"

// pageSizeKiB is the reference page size used to convert major fault counts
// into a memory estimate, per spec.md §4.6. It is a fixed reference value,
// not a runtime unix.Getpagesize() query, so accounting is stable across
// hosts with different page sizes.
const pageSizeKiB = 4

// buildVerdict applies spec.md §4.6's ordered rules to decide the run
// phase's status. Compile failure is handled by the caller before this is
// ever reached — buildVerdict only sees a completed run phase.
func buildVerdict(result waitResult, stdout collectedStream) Status {
	if stdout.truncated {
		return Status{Tag: StatusOutputLimitExceeded}
	}
	if result.status.Exited() {
		return Status{Tag: StatusExit, ExitCode: result.status.ExitStatus()}
	}
	if result.timedOut {
		return Status{Tag: StatusTimeLimitExceeded}
	}
	return Status{Tag: StatusRuntimeError}
}

// resourceUsage converts rusage into the outcome's reported figures.
func resourceUsage(rusage unix.Rusage) (memoryKiB, userTimeMs int64) {
	memoryKiB = int64(rusage.Majflt) * pageSizeKiB
	userTimeMs = int64(rusage.Utime.Sec)*1000 + int64(rusage.Utime.Usec)/1000
	return memoryKiB, userTimeMs
}
