package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/resolver"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/testutil"
)

func runCommand(t *testing.T, a *app, args ...string) error {
	t.Helper()
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestDefaultCommand(t *testing.T) {
	root := testutil.SetupTestEnv(t)
	a, err := newApp()
	require.NoError(t, err)
	assert.Equal(t, root, a.root)

	require.NoError(t, runCommand(t, a, "default", "stable"))

	name, ok, err := a.store.Default()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "stable", name)
}

func TestOverrideCommands(t *testing.T) {
	testutil.SetupTestEnv(t)
	a, err := newApp()
	require.NoError(t, err)
	dir := t.TempDir()

	require.NoError(t, runCommand(t, a, "override", "set", "nightly", "--path", dir))

	name, ok, err := a.store.DirOverride(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "nightly", name)

	require.NoError(t, runCommand(t, a, "override", "list"))
	require.NoError(t, runCommand(t, a, "override", "unset", "--path", dir))

	_, ok, err = a.store.DirOverride(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListCommandEmpty(t *testing.T) {
	testutil.SetupTestEnv(t)
	a, err := newApp()
	require.NoError(t, err)

	assert.NoError(t, runCommand(t, a, "list"))
}

func TestResolveActivePrecedence(t *testing.T) {
	testutil.SetupTestEnv(t)
	a, err := newApp()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.store.SetDefault("stable"))

	id, res, err := a.resolveActive(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, resolver.ReasonDefault, res.Reason.Kind)
	assert.False(t, id.IsCustom())
	assert.Contains(t, id.Name(), "stable-")

	// Shorthand wins over the default, and a custom name passes through
	// uncompleted.
	id, res, err = a.resolveActive(ctx, "my-local-build")
	require.NoError(t, err)
	assert.Equal(t, resolver.ReasonShorthand, res.Reason.Kind)
	assert.Equal(t, "my-local-build", id.Name())
}

func TestResolveActivePinFile(t *testing.T) {
	testutil.SetupTestEnv(t)
	a, err := newApp()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, resolver.PinFileName), []byte("nightly\n"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	id, res, err := a.resolveActive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, resolver.ReasonPinFile, res.Reason.Kind)
	assert.Contains(t, id.Name(), "nightly-")
}

func TestProxyName(t *testing.T) {
	assert.Equal(t, "compiler", proxyName(filepath.Join("/usr/local/bin", "compiler")))
	assert.Equal(t, "compiler", proxyName(filepath.Join("tools", "compiler.exe")))
	assert.Equal(t, "tcmux", proxyName("tcmux"))
}
