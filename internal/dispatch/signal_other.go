//go:build !unix

package dispatch

import (
	"os"
	"os/exec"
)

func forwardSignal(p *os.Process, sig os.Signal) {
	if sig == os.Interrupt {
		p.Signal(sig)
	}
}

func exitCode(err *exec.ExitError) int {
	return err.ExitCode()
}
