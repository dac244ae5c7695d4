package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/resolver"
)

func main() {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcmux: %v\n", err)
		os.Exit(1)
	}

	// The same binary serves as every proxy: hard links (or copies)
	// named after tools dispatch instead of running the manager CLI.
	binary := proxyName(os.Args[0])
	if binary != "tcmux" {
		os.Exit(runProxy(a, binary, os.Args[1:]))
	}

	// An interrupt cancels the command context so in-flight work (an
	// install mid-commit, say) unwinds through its rollback path
	// instead of dying wherever the signal lands.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tcmux: %v\n", err)
		os.Exit(1)
	}
}

// proxyName extracts the tool name this process was invoked as.
func proxyName(argv0 string) string {
	name := filepath.Base(argv0)
	return strings.TrimSuffix(name, ".exe")
}

// runProxy resolves the active toolchain and execs the named binary
// from it, returning the exit code for the whole process. All proxy
// diagnostics go to stderr; stdout belongs to the child.
func runProxy(a *app, binary string, args []string) int {
	// Signals are forwarded to the child by the dispatcher, so the
	// proxy context deliberately stays untied from them: the child
	// decides what an interrupt means.
	ctx := context.Background()
	shorthand, args := resolver.Shorthand(args)

	id, res, err := a.resolveActive(ctx, shorthand)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
		return 1
	}
	a.log.Debug().Str("toolchain", id.Name()).Str("reason", res.Reason.String()).
		Str("binary", binary).Msg("proxy resolved")

	code, err := a.dispatcher().Run(ctx, id.Name(), binary, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
		return 1
	}
	return code
}
