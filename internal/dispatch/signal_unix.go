//go:build unix

package dispatch

import (
	"os"
	"os/exec"
	"syscall"
)

func forwardSignal(p *os.Process, sig os.Signal) {
	// The kernel delivers SIGCHLD to us about the child itself; relaying
	// it would be noise. Everything else goes through.
	if sig == syscall.SIGCHLD {
		return
	}
	p.Signal(sig)
}

// exitCode maps a signal death to the conventional 128+signo shell
// code, matching what the child's own shell invocation would report.
func exitCode(err *exec.ExitError) int {
	status, ok := err.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return err.ExitCode()
}
