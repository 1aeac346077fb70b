package sandbox

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is how often the Deadline Supervisor checks whether the child
// has already exited before checking whether its deadline has expired.
const pollInterval = 5 * time.Millisecond

// waitResult is what the Deadline Supervisor observed about the child: its
// wait4 status, resource usage accounting, and whether the supervisor itself
// had to intervene with a termination signal.
type waitResult struct {
	status  unix.WaitStatus
	rusage  unix.Rusage
	timedOut bool
}

// superviseDeadline busy-polls pid with a non-blocking wait4 until it exits
// or timeoutMs elapses. On expiry it sends SIGKILL and keeps waiting for the
// now-dying child to actually reap, so rusage accounting is always populated
// from the same process. It is the sole reaper of pid: callers must not also
// call Cmd.Wait on the same child (spec.md §4.4).
func superviseDeadline(pid int, timeoutMs int64) (waitResult, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	var result waitResult

	for {
		var status unix.WaitStatus
		var rusage unix.Rusage
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, &rusage)
		if err != nil {
			return result, err
		}
		if wpid == pid {
			result.status = status
			result.rusage = rusage
			return result, nil
		}

		if !result.timedOut && time.Now().After(deadline) {
			unix.Kill(pid, unix.SIGKILL)
			result.timedOut = true
			// Fall through to a blocking reap: once killed the child dies
			// promptly, and a blocking wait4 avoids further busy-polling.
			var killedStatus unix.WaitStatus
			var killedRusage unix.Rusage
			if _, err := unix.Wait4(pid, &killedStatus, 0, &killedRusage); err != nil {
				return result, err
			}
			result.status = killedStatus
			result.rusage = killedRusage
			return result, nil
		}

		time.Sleep(pollInterval)
	}
}
