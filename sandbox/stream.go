package sandbox

import (
	"bytes"
	"fmt"
	"io"
)

// Output limit constants per spec.md §4.5.
const (
	maxStdoutBytes = 256 * 1024 * 1024
	maxStderrBytes = 2 * 1024
)

// collectedStream is what the Stream Collector observed on one pipe.
type collectedStream struct {
	data      []byte
	truncated bool
}

// collectStdout reads from r up to maxStdoutBytes. If the child produces
// more, the excess is discarded rather than left in the pipe: stdout is the
// job's primary payload, and an unread pipe would make the child block
// forever on write(2), hanging the whole job instead of flagging
// output_limit_exceeded (spec.md §4.5, §4.6).
func collectStdout(r io.Reader) (collectedStream, error) {
	return collectCapped(r, maxStdoutBytes, true)
}

// collectStderr reads from r up to maxStderrBytes and then simply stops.
// Stderr is diagnostic, not the job's payload: once the cap is hit there is
// nothing more worth keeping, and letting the pipe apply backpressure to a
// chatty child is an acceptable (and much cheaper) way to cap it.
func collectStderr(r io.Reader) (collectedStream, error) {
	return collectCapped(r, maxStderrBytes, false)
}

func collectCapped(r io.Reader, limit int64, drainRemainder bool) (collectedStream, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, limit)
	if err != nil && err != io.EOF {
		return collectedStream{}, fmt.Errorf("stream collector: read: %w", err)
	}
	if n < limit {
		// Hit EOF before the cap: the stream ended naturally.
		return collectedStream{data: buf.Bytes(), truncated: false}, nil
	}

	// n == limit: there may or may not be more data. Peek one more byte to
	// tell a stream that ended exactly at the cap from one that overflowed.
	var probe [1]byte
	_, probeErr := r.Read(probe[:])
	if probeErr == io.EOF {
		return collectedStream{data: buf.Bytes(), truncated: false}, nil
	}
	if probeErr != nil {
		return collectedStream{}, fmt.Errorf("stream collector: probe read: %w", probeErr)
	}

	if drainRemainder {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return collectedStream{}, fmt.Errorf("stream collector: drain remainder: %w", err)
		}
	}
	return collectedStream{data: buf.Bytes(), truncated: true}, nil
}
