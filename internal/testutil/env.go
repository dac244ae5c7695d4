// Package testutil provides utilities for testing tcmux in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv points every tcmux environment input at a private temp
// directory so tests never touch the user's real toolchains or settings,
// and returns the isolated root data directory.
//
// Cleanup is handled by t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "tcmux")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("create test root %s: %v", root, err)
	}

	t.Setenv("TCMUX_HOME", root)
	t.Setenv("TCMUX_TOOLCHAIN", "")
	t.Setenv("TCMUX_DIST_SERVER", "")
	t.Setenv("TCMUX_IO_THREADS", "")
	t.Setenv("TCMUX_UNPACK_RAM", "")
	t.Setenv("TCMUX_PERMIT_COPY_RENAME", "")

	return root
}
