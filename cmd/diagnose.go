package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// diagnoseCmd checks whether the host can actually run the sandbox, the way
// the old Claude-Code preflight hook checked whether a command would pass
// the bash validator — but here the question is "can this host create the
// namespaces and mounts the run phase needs", not "is this command safe".
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check whether this host can run the sandbox (namespaces, mounts, toolchain)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok := true

		if hasUserNamespaceCapability() {
			fmt.Println("ok   unprivileged user+network namespaces are available")
		} else {
			fmt.Println("FAIL unprivileged user+network namespaces are not available")
			ok = false
		}

		if hasMountCapability() {
			fmt.Println("ok   this process can bind-mount (CAP_SYS_ADMIN or root)")
		} else {
			fmt.Println("FAIL this process cannot bind-mount; the run phase cannot populate its chroot")
			ok = false
		}

		if _, err := exec.LookPath("/bin/bash"); err == nil {
			fmt.Println("ok   /bin/bash is available for the compile phase")
		} else {
			fmt.Println("FAIL /bin/bash is not executable; languages with compile_command will fail")
			ok = false
		}

		if !ok {
			return fmt.Errorf("diagnose: one or more required capabilities are missing")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}

// hasUserNamespaceCapability reports whether this process can create the
// user+network namespaces the run phase needs, without actually needing
// root. Grounded on the pack's wingthing sandbox namespace-capability probe
// (other_examples).
func hasUserNamespaceCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	return probeUserNamespace()
}

// probeUserNamespace spawns a trivial child in a new user namespace to test
// support directly, for kernels that lack the unprivileged_userns_clone
// sysctl (e.g. non-Debian distributions).
func probeUserNamespace() bool {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		},
	}
	return cmd.Run() == nil
}

// hasMountCapability reports whether this process can bind-mount directories
// into a workspace, which the Mount Orchestrator needs on the host side
// before any namespace is involved.
func hasMountCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	var hdr unix.CapUserHeader
	var data unix.CapUserData
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_1
	hdr.Pid = 0
	if err := unix.Capget(&hdr, &data); err != nil {
		return false
	}
	return data.Effective&(1<<unix.CAP_SYS_ADMIN) != 0
}
