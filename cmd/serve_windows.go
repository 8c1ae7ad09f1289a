//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs has nothing to detach on Windows.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.Stdin = nil
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// stopSignals: Windows cannot deliver SIGTERM, so both are a kill.
func stopSignals() (term, kill syscall.Signal) {
	return syscall.SIGKILL, syscall.SIGKILL
}
