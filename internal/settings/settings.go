// Package settings persists the global default toolchain and the set of
// directory-scoped overrides.
//
// The primary store is a TOML document under the root data directory.
// Every mutation is a full read-modify-write persisted through a
// temporary file and an atomic rename, so the on-disk and in-memory
// documents never diverge. A read-only system fallback file (Unix only)
// may supply a default toolchain when the primary store has none; this
// package never writes it.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

const (
	// FileName is the settings document name under the root data dir.
	FileName = "settings.toml"

	// CurrentVersion is the settings schema version written by this
	// release. Documents with an unknown version are rejected rather
	// than partially interpreted.
	CurrentVersion = "1"
)

// ErrCorrupt marks an unreadable or unparsable settings document.
var ErrCorrupt = errors.New("corrupt settings document")

// Settings is the full settings document. Overrides map absolute
// directory paths to toolchain names; uniqueness per directory is
// enforced by the map itself, last write wins.
type Settings struct {
	Version           string            `toml:"version"`
	DefaultToolchain  string            `toml:"default_toolchain,omitempty"`
	DefaultHostTriple string            `toml:"default_host_triple,omitempty"`
	Profile           string            `toml:"profile,omitempty"`
	Overrides         map[string]string `toml:"overrides"`
}

func defaultSettings() *Settings {
	return &Settings{
		Version:   CurrentVersion,
		Profile:   "default",
		Overrides: map[string]string{},
	}
}

// Store reads and writes the settings document. It caches the parsed
// document for the process lifetime; mutations write through.
type Store struct {
	path         string
	fallbackPath string
	log          zerolog.Logger

	mu     sync.Mutex
	cached *Settings
}

// NewStore creates a store rooted at the given data directory.
func NewStore(root string, log zerolog.Logger) *Store {
	return &Store{
		path:         filepath.Join(root, FileName),
		fallbackPath: fallbackSettingsPath(),
		log:          log,
	}
}

// Load returns the current settings, reading the document on first use.
// A missing document yields defaults without creating the file.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Settings, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cached = defaultSettings()
			return s.cached, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var loaded Settings
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if loaded.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unknown settings version %q", ErrCorrupt, loaded.Version)
	}
	if loaded.Overrides == nil {
		loaded.Overrides = map[string]string{}
	}
	s.cached = &loaded
	return s.cached, nil
}

// Save persists the given settings atomically and replaces the cache.
func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(settings)
}

func (s *Store) saveLocked(settings *Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary settings file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings file: %w", err)
	}

	s.cached = settings
	return nil
}

// mutate applies a single change as a read-modify-write against the full
// document.
func (s *Store) mutate(f func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		return err
	}
	updated := *current
	updated.Overrides = make(map[string]string, len(current.Overrides))
	for k, v := range current.Overrides {
		updated.Overrides[k] = v
	}
	f(&updated)
	return s.saveLocked(&updated)
}

// SetDefault records the global default toolchain.
func (s *Store) SetDefault(toolchain string) error {
	s.log.Debug().Str("toolchain", toolchain).Msg("setting default toolchain")
	return s.mutate(func(st *Settings) {
		st.DefaultToolchain = toolchain
	})
}

// Default returns the global default toolchain, if one is set.
func (s *Store) Default() (string, bool, error) {
	settings, err := s.Load()
	if err != nil {
		return "", false, err
	}
	return settings.DefaultToolchain, settings.DefaultToolchain != "", nil
}

// SetOverride binds a directory to a toolchain. The directory is
// canonicalized so later lookups with equivalent paths match.
func (s *Store) SetOverride(dir, toolchain string) error {
	key, err := pathKey(dir)
	if err != nil {
		return err
	}
	s.log.Debug().Str("dir", key).Str("toolchain", toolchain).Msg("setting directory override")
	return s.mutate(func(st *Settings) {
		st.Overrides[key] = toolchain
	})
}

// UnsetOverride removes the override for a directory, reporting whether
// one existed.
func (s *Store) UnsetOverride(dir string) (bool, error) {
	key, err := pathKey(dir)
	if err != nil {
		return false, err
	}
	removed := false
	err = s.mutate(func(st *Settings) {
		_, removed = st.Overrides[key]
		delete(st.Overrides, key)
	})
	return removed, err
}

// DirOverride looks up the override recorded for exactly this directory.
func (s *Store) DirOverride(dir string) (string, bool, error) {
	settings, err := s.Load()
	if err != nil {
		return "", false, err
	}
	key, err := pathKey(dir)
	if err != nil {
		return "", false, err
	}
	name, ok := settings.Overrides[key]
	return name, ok, nil
}

// FallbackDefault returns the default toolchain from the read-only
// system fallback file, if present and parseable. Errors here are
// deliberately swallowed: users cannot fix a centrally managed file,
// and the fallback only matters when no default is set at all.
func (s *Store) FallbackDefault() (string, bool) {
	if s.fallbackPath == "" {
		return "", false
	}
	data, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		return "", false
	}
	var fb struct {
		DefaultToolchain string `toml:"default_toolchain"`
	}
	if err := toml.Unmarshal(data, &fb); err != nil {
		s.log.Debug().Str("path", s.fallbackPath).Err(err).Msg("ignoring unparsable fallback settings")
		return "", false
	}
	return fb.DefaultToolchain, fb.DefaultToolchain != ""
}

// SetFallbackPath overrides the fallback file location, for tests.
func (s *Store) SetFallbackPath(path string) {
	s.fallbackPath = path
}

// pathKey canonicalizes a directory path into its override map key.
// Existing paths resolve symlinks so equivalent spellings collide.
func pathKey(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve override path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
