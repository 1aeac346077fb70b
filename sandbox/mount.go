package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// mountOrchestrator applies and tears down the read-only bind mounts of a
// SandboxProfile against one workspace. Mounts are only ever established for
// the run phase — the compile phase runs in a plain, unmounted workspace
// (spec.md §4.2, §9).
type mountOrchestrator struct {
	profile SandboxProfile
	root    string

	// applied tracks destinations successfully mounted, in application
	// order, so a partial failure only unwinds what actually succeeded.
	applied []string
}

func newMountOrchestrator(profile SandboxProfile, root string) *mountOrchestrator {
	return &mountOrchestrator{profile: profile, root: root}
}

// apply bind-mounts every entry of profile.Mounts, in order, read-only,
// noatime, nodiratime. On the first failure it unwinds everything already
// applied and returns an error — mount failures are host errors, not job
// outcomes (spec.md §7).
func (m *mountOrchestrator) apply() error {
	for _, mnt := range m.profile.Mounts {
		dest := filepath.Join(m.root, strings.TrimPrefix(mnt.SandboxDestination, "/"))
		if err := os.MkdirAll(dest, 0o755); err != nil {
			m.unwind()
			return fmt.Errorf("mount orchestrator: create mount point %s: %w", dest, err)
		}
		if err := unix.Mount(mnt.HostSource, dest, "", unix.MS_BIND, ""); err != nil {
			m.unwind()
			return fmt.Errorf("mount orchestrator: bind %s -> %s: %w", mnt.HostSource, dest, err)
		}
		// Bind mounts must be remounted to apply MS_RDONLY — the kernel
		// ignores most flags on the initial MS_BIND pass.
		flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOATIME | unix.MS_NODIRATIME)
		if err := unix.Mount(mnt.HostSource, dest, "", flags, ""); err != nil {
			unix.Unmount(dest, 0)
			m.unwind()
			return fmt.Errorf("mount orchestrator: remount read-only %s: %w", dest, err)
		}
		m.applied = append(m.applied, dest)
	}
	return nil
}

// unwind unmounts everything recorded in m.applied, in any order, ignoring
// (not returning) failures, since it is only invoked during error recovery
// in apply() where a partial failure is already being reported.
func (m *mountOrchestrator) unwind() {
	for _, dest := range m.applied {
		unix.Unmount(dest, 0)
	}
	m.applied = nil
}

// teardown unmounts every applied mount after the run phase, irrespective of
// verdict. Unmount failure is fatal: leaving host directories bound under a
// deletable workspace is a correctness hazard (spec.md §4.2).
func (m *mountOrchestrator) teardown() error {
	var firstErr error
	for _, dest := range m.applied {
		if err := unix.Unmount(dest, 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mount orchestrator: unmount %s: %w", dest, err)
		}
	}
	m.applied = nil
	if firstErr != nil {
		return firstErr
	}
	return nil
}
