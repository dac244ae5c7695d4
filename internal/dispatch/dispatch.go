// Package dispatch execs toolchain binaries on behalf of the proxies.
// The dispatcher is a thin, faithful pipe: the child inherits stdio, its
// exit code is reproduced exactly, and terminal signals pass through.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/resolver"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

// BinaryMissingError reports a proxied binary absent from an installed
// toolchain: the toolchain exists but does not provide the tool.
type BinaryMissingError struct {
	Binary    string
	Toolchain string
}

func (e *BinaryMissingError) Error() string {
	return fmt.Sprintf("binary %q is not provided by toolchain %q", e.Binary, e.Toolchain)
}

// Dispatcher locates and runs binaries from installed toolchains.
type Dispatcher struct {
	Root string
	Log  zerolog.Logger
}

// Command resolves the path of a binary inside a named toolchain,
// requiring the toolchain to be in the Installed state.
func (d *Dispatcher) Command(name, binary string) (string, error) {
	state, _, err := toolchain.Inspect(d.Root, name)
	if err != nil {
		return "", err
	}
	if state != toolchain.StateInstalled {
		return "", &toolchain.NotInstalledError{Name: name}
	}

	path := toolchain.BinaryPath(d.Root, name, binary)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", &BinaryMissingError{Binary: binary, Toolchain: name}
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return path, nil
}

// Run executes binary from the named toolchain with args, inheriting
// stdio, and returns the child's exit code. The child sees the selected
// toolchain in its environment so nested invocations resolve the same
// way. Signals delivered to the proxy are forwarded to the child; the
// proxy never dies first.
func (d *Dispatcher) Run(ctx context.Context, name, binary string, args []string) (int, error) {
	path, err := d.Command(name, binary)
	if err != nil {
		return 0, err
	}
	d.Log.Debug().Str("binary", path).Strs("args", args).Msg("dispatching")

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), resolver.EnvToolchain+"="+name)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", path, err)
	}

	// Forward everything notifiable to the child and let it decide how
	// to die; the child's exit status is the only exit status.
	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				forwardSignal(cmd.Process, sig)
			case <-done:
				return
			}
		}
	}()

	err = cmd.Wait()
	close(done)
	signal.Stop(sigCh)

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitCode(exitErr), nil
	}
	return 0, fmt.Errorf("wait for %s: %w", path, err)
}
