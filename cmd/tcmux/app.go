package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/dispatch"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/install"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/logging"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/resolver"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/settings"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/unpack"
)

// EnvHome overrides the data directory root.
const EnvHome = "TCMUX_HOME"

// app wires the long-lived pieces together once per invocation.
type app struct {
	root     string
	log      zerolog.Logger
	store    *settings.Store
	resolver *resolver.Resolver
}

func newApp() (*app, error) {
	root := os.Getenv(EnvHome)
	if root == "" {
		root = filepath.Join(xdg.DataHome, "tcmux")
	}
	log := logging.Setup()

	store := settings.NewStore(root, logging.Component(log, "settings"))
	res := &resolver.Resolver{
		Lookup:   &resolver.FSLookup{Overrides: store},
		Defaults: store,
		Log:      logging.Component(log, "resolve"),
	}
	return &app{root: root, log: log, store: store, resolver: res}, nil
}

// hostTriple is the triple toolchain names resolve against: the
// configured default_host_triple when set, otherwise detection.
func (a *app) hostTriple(ctx context.Context) (toolchain.Triple, error) {
	s, err := a.store.Load()
	if err != nil {
		return "", err
	}
	if s.DefaultHostTriple != "" {
		return toolchain.Triple(s.DefaultHostTriple), nil
	}
	return toolchain.DetectTriple(ctx), nil
}

// canonicalName turns a user-facing toolchain name ("stable",
// "nightly-2026-08-01-musl") into the canonical installation name by
// completing its target triple against the host. Custom names pass
// through unchanged.
func (a *app) canonicalName(ctx context.Context, name string) (toolchain.ID, error) {
	host, err := a.hostTriple(ctx)
	if err != nil {
		return toolchain.ID{}, err
	}
	return toolchain.ParseID(name, host)
}

func (a *app) installer() *install.Installer {
	distRoot := os.Getenv(manifest.EnvDistServer)
	if distRoot == "" {
		distRoot = manifest.DefaultDistServer
	}
	client := download.NewClient(logging.Component(a.log, "download"))
	return &install.Installer{
		Root: a.root,
		Source: &manifest.Source{
			Root:   distRoot,
			Client: client,
			Log:    logging.Component(a.log, "manifest"),
		},
		Client:           client,
		Unpacker:         unpack.New(unpack.OptionsFromEnv(), logging.Component(a.log, "unpack")),
		PermitCopyRename: os.Getenv(install.EnvPermitCopyRename) == "1",
		Log:              logging.Component(a.log, "install"),
	}
}

// withLock serializes a settings mutation against installs and other
// mutating tcmux processes.
func (a *app) withLock(fn func() error) error {
	lock, err := install.AcquireLock(a.root, logging.Component(a.log, "lock"))
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	return &dispatch.Dispatcher{Root: a.root, Log: logging.Component(a.log, "dispatch")}
}

// resolveActive finds the active toolchain for the current directory and
// canonicalizes it against the host.
func (a *app) resolveActive(ctx context.Context, shorthand string) (toolchain.ID, resolver.Resolution, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return toolchain.ID{}, resolver.Resolution{}, fmt.Errorf("get working directory: %w", err)
	}
	res, err := a.resolver.Resolve(cwd, shorthand)
	if err != nil {
		return toolchain.ID{}, resolver.Resolution{}, err
	}
	id, err := a.canonicalName(ctx, res.Name)
	if err != nil {
		return toolchain.ID{}, resolver.Resolution{}, err
	}
	return id, res, nil
}
