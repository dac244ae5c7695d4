package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// opKind tags one reversible filesystem operation in the transaction
// log. The log is append-only with a single writer; rollback replays it
// in reverse.
type opKind int

const (
	opRenamed opKind = iota // file renamed into place; undo removes it
	opCreatedFile           // file copied into place; undo removes it
	opCreatedDir            // directory created; undo removes it if empty
	opOverwrote             // pre-existing file moved to backup; undo restores it
	opRemovedFile           // file moved to backup; undo restores it
	opRemovedDir            // empty directory removed; undo recreates it
)

type op struct {
	kind   opKind
	path   string // the final path affected
	backup string // backup location, for opOverwrote and opRemovedFile
}

// CrossDeviceError reports a commit rename that crossed filesystem
// volumes. Atomic rename is impossible across volumes; the copy
// fallback must be opted into explicitly because it sacrifices
// atomicity for that file.
type CrossDeviceError struct {
	From string
	To   string
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("cannot atomically rename %s to %s: paths are on different volumes "+
		"(set TCMUX_PERMIT_COPY_RENAME=1 to permit a non-atomic copy)", e.From, e.To)
}

// Transaction accumulates reversible filesystem operations for one
// install or uninstall. On success it is committed and discarded; on
// failure every applied operation is undone in reverse order.
type Transaction struct {
	backupDir string
	ops       []op
	log       zerolog.Logger
	finished  bool
}

// NewTransaction opens a transaction whose backups live under
// backupDir, which must be on the same volume as the paths it will
// touch.
func NewTransaction(backupDir string, log zerolog.Logger) (*Transaction, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transaction backup dir: %w", err)
	}
	return &Transaction{backupDir: backupDir, log: log}, nil
}

func (t *Transaction) record(o op) {
	t.ops = append(t.ops, o)
}

func (t *Transaction) newBackupPath() string {
	return filepath.Join(t.backupDir, fmt.Sprintf("bk-%d", len(t.ops)))
}

// RenameFile atomically moves src to dest. A pre-existing dest is moved
// aside to a backup first so rollback can restore it byte-identical.
// Cross-volume renames fail unless permitCopy allows the documented
// copy+delete fallback.
func (t *Transaction) RenameFile(src, dest string, permitCopy bool) error {
	if _, err := os.Lstat(dest); err == nil {
		backup := t.newBackupPath()
		if err := os.Rename(dest, backup); err != nil {
			return fmt.Errorf("back up existing file %s: %w", dest, err)
		}
		t.record(op{kind: opOverwrote, path: dest, backup: backup})
	}

	err := os.Rename(src, dest)
	if err == nil {
		t.record(op{kind: opRenamed, path: dest})
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("rename %s to %s: %w", src, dest, err)
	}
	if !permitCopy {
		return &CrossDeviceError{From: src, To: dest}
	}

	t.log.Warn().Str("from", src).Str("to", dest).
		Msg("cross-volume rename; falling back to non-atomic copy")
	if err := copyFileSync(src, dest); err != nil {
		return err
	}
	t.record(op{kind: opCreatedFile, path: dest})
	os.Remove(src)
	return nil
}

// CreateDir creates path and any missing ancestors, recording each
// directory actually created so rollback can remove them again.
func (t *Transaction) CreateDir(path string) error {
	// Find the closest existing ancestor, then create downward.
	var missing []string
	for p := path; ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			break
		}
		missing = append(missing, p)
		if filepath.Dir(p) == p {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return fmt.Errorf("create directory %s: %w", missing[i], err)
		}
		t.record(op{kind: opCreatedDir, path: missing[i]})
	}
	return nil
}

// RemoveFile moves path to a backup, recording the removal so rollback
// can restore it.
func (t *Transaction) RemoveFile(path string) error {
	backup := t.newBackupPath()
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	t.record(op{kind: opRemovedFile, path: path, backup: backup})
	return nil
}

// RemoveDirIfEmpty removes path when it is empty; a non-empty directory
// is left alone without error.
func (t *Transaction) RemoveDirIfEmpty(path string) error {
	err := os.Remove(path)
	if err == nil {
		t.record(op{kind: opRemovedDir, path: path})
		return nil
	}
	if isNotEmpty(err) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("remove directory %s: %w", path, err)
}

// Commit discards the log and backups. The transaction must not be used
// afterwards.
func (t *Transaction) Commit() {
	t.finished = true
	t.ops = nil
	os.RemoveAll(t.backupDir)
}

// Rollback replays the log in reverse, undoing every applied operation.
// Undo failures are collected and reported together but never abort the
// unwind: the transaction attempts to restore everything it can.
func (t *Transaction) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true

	var result *multierror.Error
	for i := len(t.ops) - 1; i >= 0; i-- {
		o := t.ops[i]
		var err error
		switch o.kind {
		case opRenamed, opCreatedFile:
			err = os.Remove(o.path)
		case opCreatedDir:
			if rmErr := os.Remove(o.path); rmErr != nil && !isNotEmpty(rmErr) && !os.IsNotExist(rmErr) {
				err = rmErr
			}
		case opOverwrote, opRemovedFile:
			err = os.Rename(o.backup, o.path)
		case opRemovedDir:
			err = os.Mkdir(o.path, 0o755)
		}
		if err != nil {
			t.log.Error().Str("path", o.path).Err(err).Msg("rollback step failed")
			result = multierror.Append(result, fmt.Errorf("undo %s: %w", o.path, err))
		}
	}
	t.ops = nil
	if result == nil {
		os.RemoveAll(t.backupDir)
	}
	return result.ErrorOrNil()
}

// Applied reports how many operations the log currently holds.
func (t *Transaction) Applied() int {
	return len(t.ops)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err == syscall.EXDEV
	}
	return errors.Is(err, syscall.EXDEV)
}

func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}

// copyFileSync copies src to dest and syncs it before returning, the
// closest a copy can get to the durability of a rename.
func copyFileSync(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", dest, err)
	}
	return f.Close()
}
