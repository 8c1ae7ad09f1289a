//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs starts the child in its own session so it survives the
// terminal that launched it.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
}

// shutdownSignals end a foreground run or server gracefully.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// stopSignals returns the polite and the forceful signal used by
// 'serve stop'.
func stopSignals() (term, kill syscall.Signal) {
	return syscall.SIGTERM, syscall.SIGKILL
}
