package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// LockFileName guards the whole data directory: one mutating
	// operation at a time across processes.
	LockFileName = "lock"

	// staleLockThreshold is how old a lock must be before a waiter
	// assumes its holder died without cleaning up.
	staleLockThreshold = 10 * time.Minute

	lockPollInterval = 500 * time.Millisecond
)

// LockedError reports that another process holds the data directory
// lock.
type LockedError struct {
	Path string
	PID  int
}

func (e *LockedError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("data directory is locked by pid %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("data directory is locked (%s)", e.Path)
}

// Lock is an exclusive advisory lock over a data directory, taken by
// atomically creating a lock file.
type Lock struct {
	path string
	log  zerolog.Logger
}

// AcquireLock takes the data directory lock under root, failing
// immediately with LockedError if another live process holds it. A lock
// older than staleLockThreshold is treated as abandoned and broken.
func AcquireLock(root string, log zerolog.Logger) (*Lock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(root, LockFileName)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().Unix())
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", cerr)
			}
			log.Debug().Str("path", path).Msg("acquired data directory lock")
			return &Lock{path: path, log: log}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid, at, readErr := readLock(path)
		if readErr == nil && time.Since(at) > staleLockThreshold {
			breakStaleLock(path, pid, at, log)
			continue
		}
		return nil, &LockedError{Path: path, PID: pid}
	}
}

// breakStaleLock removes an abandoned lock file. The stale file is
// claimed by rename before anything is deleted, so when several
// contenders observe the same stale lock only the one whose rename
// succeeds removes it; the losers see the rename fail and go back to
// contending on the lock itself. A claim that turns out to hold a
// different, fresh lock is put back untouched.
func breakStaleLock(path string, pid int, at time.Time, log zerolog.Logger) {
	claim := fmt.Sprintf("%s.break-%d", path, os.Getpid())
	if err := os.Rename(path, claim); err != nil {
		return
	}
	// Only remove exactly the stale lock we observed; anything else
	// changed hands while we raced to claim it.
	cpid, cat, err := readLock(claim)
	if err != nil || cpid != pid || !cat.Equal(at) {
		os.Rename(claim, path)
		return
	}
	log.Warn().Str("path", path).Int("pid", pid).
		Msg("breaking stale data directory lock")
	os.Remove(claim)
}

// AcquireLockWait is AcquireLock that blocks, polling until the lock is
// free or ctx expires.
func AcquireLockWait(ctx context.Context, root string, log zerolog.Logger) (*Lock, error) {
	for {
		l, err := AcquireLock(root, log)
		if err == nil {
			return l, nil
		}
		var locked *LockedError
		if !errors.As(err, &locked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for data directory lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	l.log.Debug().Str("path", l.path).Msg("released data directory lock")
	return nil
}

// readLock parses "pid unix-timestamp" from a lock file.
func readLock(path string) (int, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, time.Time{}, fmt.Errorf("malformed lock file %s", path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("malformed lock pid in %s", path)
	}
	unix, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("malformed lock timestamp in %s", path)
	}
	return pid, time.Unix(unix, 0), nil
}
