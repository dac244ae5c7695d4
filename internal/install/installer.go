// Package install is the transactional installer: it downloads verified
// component archives, stages them next to their destination, and commits
// with a reversible rename log so that an interrupted or failed install
// leaves the toolchain in a resting state, never half-written.
package install

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/unpack"
)

// EnvPermitCopyRename opts into the non-atomic copy fallback for
// cross-volume commit renames.
const EnvPermitCopyRename = "TCMUX_PERMIT_COPY_RENAME"

// Outcome reports what an install actually did.
type Outcome int

const (
	// OutcomeInstalled means the toolchain was materialized fresh or
	// replaced with new content.
	OutcomeInstalled Outcome = iota
	// OutcomeUnchanged means the installed toolchain already matches the
	// resolved manifest; nothing was downloaded or written.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	if o == OutcomeUnchanged {
		return "unchanged"
	}
	return "installed"
}

// Result summarizes a completed install.
type Result struct {
	Toolchain  string
	Outcome    Outcome
	Components []string
}

// InstallError wraps a failed install with the stage it died in and the
// outcome of the rollback. A nil RollbackErr means the data directory
// was restored to its prior resting state.
type InstallError struct {
	Toolchain   string
	Stage       string
	Err         error
	RollbackErr error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("install %s: %s: %v", e.Toolchain, e.Stage, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback incomplete: %v)", e.RollbackErr)
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// CustomToolchainError reports a dist-server operation attempted against
// a custom (linked) toolchain name.
type CustomToolchainError struct {
	Name string
}

func (e *CustomToolchainError) Error() string {
	return fmt.Sprintf("toolchain %q is a custom toolchain and cannot be installed from a release channel", e.Name)
}

// Installer performs toolchain install and uninstall under a data
// directory root.
type Installer struct {
	Root     string
	Source   *manifest.Source
	Client   *download.Client
	Unpacker *unpack.Unpacker

	// PermitCopyRename allows the non-atomic copy fallback when the
	// staging area and destination sit on different volumes.
	PermitCopyRename bool

	// WaitForLock blocks on a held data directory lock instead of
	// failing immediately.
	WaitForLock bool

	Log zerolog.Logger
}

func (ins *Installer) acquireLock(ctx context.Context) (*Lock, error) {
	if ins.WaitForLock {
		return AcquireLockWait(ctx, ins.Root, ins.Log)
	}
	return AcquireLock(ins.Root, ins.Log)
}

// InstallRequest names what to install.
type InstallRequest struct {
	ID      toolchain.ID
	Profile string
	Extras  []string

	// Exact disables the backward date search during manifest
	// resolution.
	Exact bool
}

// Install brings the requested toolchain to the Installed state. It is
// idempotent: when the installed content already matches the resolved
// manifest the call returns OutcomeUnchanged without touching the disk.
func (ins *Installer) Install(ctx context.Context, req InstallRequest) (*Result, error) {
	if req.ID.IsCustom() {
		return nil, &CustomToolchainError{Name: req.ID.Name()}
	}
	desc := req.ID.Desc
	name := req.ID.Name()

	lock, err := ins.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	ins.sweepLeftovers()

	m, components, err := ins.Source.Resolve(ctx, manifest.Request{
		Channel: desc.Channel,
		Date:    desc.Date,
		Profile: req.Profile,
		Extras:  req.Extras,
		Target:  desc.Target,
		Exact:   req.Exact,
	})
	if err != nil {
		return nil, err
	}

	names := componentNames(components)
	state, rec, err := toolchain.Inspect(ins.Root, name)
	if err != nil {
		return nil, err
	}
	if state == toolchain.StateInstalled && rec.ManifestHash == m.Hash && sameSet(rec.Components, names) {
		ins.Log.Info().Str("toolchain", name).Msg("toolchain is up to date")
		return &Result{Toolchain: name, Outcome: OutcomeUnchanged, Components: names}, nil
	}

	stageDir := filepath.Join(ins.Root, "toolchains", fmt.Sprintf(".staging-%s", uuid.NewString()))
	defer os.RemoveAll(stageDir)

	entries, err := ins.stage(ctx, components, stageDir)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	record := toolchain.InstalledRecord{ManifestHash: m.Hash, Components: names}
	if err := ins.commit(ctx, name, stageDir, entries, record); err != nil {
		return nil, err
	}

	ins.Log.Info().Str("toolchain", name).Strs("components", names).Msg("toolchain installed")
	return &Result{Toolchain: name, Outcome: OutcomeInstalled, Components: names}, nil
}

// stage downloads every component archive and unpacks it under
// stageDir, returning the merged, deduplicated entry list in commit
// order. Download and unpack are pipelined: while one component is
// being written to disk the next one's bytes are already in flight.
// Archives land in a digest-keyed cache, so a re-run after failure
// reuses verified files.
func (ins *Installer) stage(ctx context.Context, components []manifest.ResolvedComponent, stageDir string) ([]unpack.Entry, error) {
	cacheDir := filepath.Join(ins.Root, "downloads")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download cache: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	downloaded := make(chan string, 1)

	g.Go(func() error {
		defer close(downloaded)
		for _, c := range components {
			digest, err := c.Entry.Digest()
			if err != nil {
				return fmt.Errorf("component %s: %w", c.Name, err)
			}
			dest := filepath.Join(cacheDir, digest.Hex+".tar.gz")
			ins.Log.Info().Str("component", c.Name).Str("url", c.Entry.URL).Msg("downloading component")
			if err := ins.Client.Verified(ctx, c.Entry.URL, dest, digest); err != nil {
				return fmt.Errorf("download component %s: %w", c.Name, err)
			}
			select {
			case downloaded <- dest:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	seen := map[string]bool{}
	var merged []unpack.Entry
	g.Go(func() error {
		for archive := range downloaded {
			entries, err := ins.Unpacker.Unpack(ctx, archive, stageDir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !seen[e.RelPath] {
					seen[e.RelPath] = true
					merged = append(merged, e)
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Dir != merged[j].Dir {
			return merged[i].Dir
		}
		return merged[i].RelPath < merged[j].RelPath
	})
	return merged, nil
}

// commit moves the staged tree into the toolchain directory under a
// reversible transaction. The component record is renamed into place
// last: its appearance is the single step that flips the toolchain to
// Installed. Cancellation stops issuing new renames and rolls back
// what was already applied.
func (ins *Installer) commit(ctx context.Context, name, stageDir string, entries []unpack.Entry, record toolchain.InstalledRecord) error {
	destDir := toolchain.Dir(ins.Root, name)
	txnDir := filepath.Join(ins.Root, "toolchains", fmt.Sprintf(".txn-%s", uuid.NewString()))

	txn, err := NewTransaction(txnDir, ins.Log)
	if err != nil {
		return err
	}

	fail := func(stage string, err error) error {
		rbErr := txn.Rollback()
		return &InstallError{Toolchain: name, Stage: stage, Err: err, RollbackErr: rbErr}
	}

	if err := txn.CreateDir(destDir); err != nil {
		return fail("prepare", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fail("commit", err)
		}
		dest := filepath.Join(destDir, e.RelPath)
		if e.Dir {
			if err := txn.CreateDir(dest); err != nil {
				return fail("commit", err)
			}
			continue
		}
		// Archives are not required to carry directory headers, so make
		// sure the parent exists before the rename.
		if err := txn.CreateDir(filepath.Dir(dest)); err != nil {
			return fail("commit", err)
		}
		if err := txn.RenameFile(filepath.Join(stageDir, e.RelPath), dest, ins.PermitCopyRename); err != nil {
			return fail("commit", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fail("finalize", err)
	}

	// Stage the component record beside the tree it describes, then
	// flip it into place as the final operation.
	recordStage := filepath.Join(stageDir, toolchain.ComponentsFile)
	data, err := toml.Marshal(record)
	if err != nil {
		return fail("finalize", fmt.Errorf("encode component record: %w", err))
	}
	if err := os.WriteFile(recordStage, data, 0o644); err != nil {
		return fail("finalize", fmt.Errorf("write component record: %w", err))
	}
	if err := txn.RenameFile(recordStage, filepath.Join(destDir, toolchain.ComponentsFile), ins.PermitCopyRename); err != nil {
		return fail("finalize", err)
	}

	txn.Commit()
	return nil
}

// Uninstall removes an installed toolchain. The component record is
// removed first, flipping the toolchain to Absent before any content
// disappears; a failure partway through rolls the removal back.
func (ins *Installer) Uninstall(ctx context.Context, name string) error {
	lock, err := ins.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer lock.Release()
	ins.sweepLeftovers()

	if err := ctx.Err(); err != nil {
		return err
	}

	state, _, err := toolchain.Inspect(ins.Root, name)
	if err != nil {
		return err
	}
	if state != toolchain.StateInstalled {
		return &toolchain.NotInstalledError{Name: name}
	}

	dir := toolchain.Dir(ins.Root, name)
	txnDir := filepath.Join(ins.Root, "toolchains", fmt.Sprintf(".txn-%s", uuid.NewString()))
	txn, err := NewTransaction(txnDir, ins.Log)
	if err != nil {
		return err
	}

	fail := func(stage string, err error) error {
		rbErr := txn.Rollback()
		return &InstallError{Toolchain: name, Stage: stage, Err: err, RollbackErr: rbErr}
	}

	if err := txn.RemoveFile(filepath.Join(dir, toolchain.ComponentsFile)); err != nil {
		return fail("uninstall", err)
	}

	files, dirs, err := collectTree(dir)
	if err != nil {
		return fail("uninstall", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return fail("uninstall", err)
		}
		if err := txn.RemoveFile(f); err != nil {
			return fail("uninstall", err)
		}
	}
	// Deepest directories first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := txn.RemoveDirIfEmpty(dirs[i]); err != nil {
			return fail("uninstall", err)
		}
	}
	if err := txn.RemoveDirIfEmpty(dir); err != nil {
		return fail("uninstall", err)
	}

	txn.Commit()
	ins.Log.Info().Str("toolchain", name).Msg("toolchain uninstalled")
	return nil
}

// sweepLeftovers removes staging and transaction directories abandoned
// by crashed runs. Only called while holding the data directory lock.
func (ins *Installer) sweepLeftovers() {
	dir := filepath.Join(ins.Root, "toolchains")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") || strings.HasPrefix(e.Name(), ".txn-") {
			ins.Log.Warn().Str("dir", e.Name()).Msg("removing abandoned staging directory")
			os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
}

// collectTree lists every file and directory under root, excluding the
// root itself. Directories come back in walk (top-down) order.
func collectTree(root string) (files, dirs []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, dirs, nil
}

func componentNames(components []manifest.ResolvedComponent) []string {
	names := make([]string, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
