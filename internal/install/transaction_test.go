package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTxn(t *testing.T) (*Transaction, string) {
	t.Helper()
	work := t.TempDir()
	txn, err := NewTransaction(filepath.Join(work, ".txn"), zerolog.Nop())
	require.NoError(t, err)
	return txn, work
}

func writeF(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRenameFileCommit(t *testing.T) {
	txn, work := newTestTxn(t)
	src := filepath.Join(work, "staged")
	dest := filepath.Join(work, "final")
	writeF(t, src, "payload")

	require.NoError(t, txn.RenameFile(src, dest, false))
	assert.Equal(t, 1, txn.Applied())
	txn.Commit()

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestRenameFileRollback(t *testing.T) {
	txn, work := newTestTxn(t)
	src := filepath.Join(work, "staged")
	dest := filepath.Join(work, "final")
	writeF(t, src, "payload")

	require.NoError(t, txn.RenameFile(src, dest, false))
	require.NoError(t, txn.Rollback())

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "rollback must remove the renamed file")
}

func TestRenameFileOverwriteRestoredOnRollback(t *testing.T) {
	txn, work := newTestTxn(t)
	src := filepath.Join(work, "staged")
	dest := filepath.Join(work, "final")
	writeF(t, src, "new content")
	writeF(t, dest, "original content")

	require.NoError(t, txn.RenameFile(src, dest, false))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	require.NoError(t, txn.Rollback())

	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "original content", string(data), "pre-existing file restored byte-identical")
}

func TestCreateDirRollbackRemovesOnlyCreated(t *testing.T) {
	txn, work := newTestTxn(t)
	existing := filepath.Join(work, "existing")
	require.NoError(t, os.MkdirAll(existing, 0o755))

	target := filepath.Join(existing, "a", "b", "c")
	require.NoError(t, txn.CreateDir(target))
	assert.Equal(t, 3, txn.Applied(), "one op per directory actually created")
	require.DirExists(t, target)

	require.NoError(t, txn.Rollback())

	_, err := os.Stat(filepath.Join(existing, "a"))
	assert.True(t, os.IsNotExist(err))
	require.DirExists(t, existing, "pre-existing ancestor untouched")
}

func TestRemoveFileRollback(t *testing.T) {
	txn, work := newTestTxn(t)
	victim := filepath.Join(work, "tree", "file")
	writeF(t, victim, "keep me")

	require.NoError(t, txn.RemoveFile(victim))
	_, err := os.Stat(victim)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, txn.Rollback())

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestRemoveDirIfEmpty(t *testing.T) {
	txn, work := newTestTxn(t)
	empty := filepath.Join(work, "empty")
	full := filepath.Join(work, "full")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	writeF(t, filepath.Join(full, "file"), "x")

	require.NoError(t, txn.RemoveDirIfEmpty(empty))
	_, err := os.Stat(empty)
	assert.True(t, os.IsNotExist(err))

	// Non-empty directory is left alone without error.
	require.NoError(t, txn.RemoveDirIfEmpty(full))
	require.DirExists(t, full)

	require.NoError(t, txn.Rollback())
	require.DirExists(t, empty, "removed directory recreated on rollback")
}

func TestCommitDiscardsBackups(t *testing.T) {
	work := t.TempDir()
	backupDir := filepath.Join(work, ".txn")
	txn, err := NewTransaction(backupDir, zerolog.Nop())
	require.NoError(t, err)

	victim := filepath.Join(work, "file")
	writeF(t, victim, "x")
	require.NoError(t, txn.RemoveFile(victim))

	txn.Commit()
	_, err = os.Stat(backupDir)
	assert.True(t, os.IsNotExist(err))

	// Rollback after commit is a no-op.
	assert.NoError(t, txn.Rollback())
}

func TestRollbackReverseOrder(t *testing.T) {
	// A created directory with a file renamed into it can only unwind
	// file-first; replaying the log in reverse order handles it.
	txn, work := newTestTxn(t)
	dir := filepath.Join(work, "newdir")
	src := filepath.Join(work, "staged")
	writeF(t, src, "x")

	require.NoError(t, txn.CreateDir(dir))
	require.NoError(t, txn.RenameFile(src, filepath.Join(dir, "file"), false))

	require.NoError(t, txn.Rollback())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
