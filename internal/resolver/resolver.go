// Package resolver decides which toolchain is active for an invocation
// context.
//
// Precedence, highest first: an explicit +name shorthand, the
// TCMUX_TOOLCHAIN environment variable, the directory override or pin
// marker nearest the working directory, the global default, and the
// Unix system fallback. The directory walk is a pure function over the
// ancestor chain, driven through the Lookup interface so it can be
// tested without a real settings store or filesystem.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// EnvToolchain names an active override toolchain for the process.
const EnvToolchain = "TCMUX_TOOLCHAIN"

// ErrNoDefault is returned when no precedence level yields a toolchain.
var ErrNoDefault = errors.New("no default toolchain configured")

// Lookup answers the two per-directory questions of the override walk.
type Lookup interface {
	// DirOverride returns the override recorded for exactly this
	// directory in the settings store.
	DirOverride(dir string) (string, bool, error)

	// PinContent returns the raw content of the directory's pin marker
	// file, if one exists, along with its path.
	PinContent(dir string) (content []byte, path string, ok bool, err error)
}

// DefaultSource supplies the two lowest precedence levels.
type DefaultSource interface {
	Default() (string, bool, error)
	FallbackDefault() (string, bool)
}

// ReasonKind says which precedence level produced a resolution.
type ReasonKind int

const (
	ReasonShorthand ReasonKind = iota
	ReasonEnvironment
	ReasonOverrideDB
	ReasonPinFile
	ReasonDefault
	ReasonFallback
)

// Reason explains a resolution; Path is the override directory or pin
// file when one of those applied.
type Reason struct {
	Kind ReasonKind
	Path string
}

func (r Reason) String() string {
	switch r.Kind {
	case ReasonShorthand:
		return "overridden by +toolchain on the command line"
	case ReasonEnvironment:
		return "overridden by " + EnvToolchain
	case ReasonOverrideDB:
		return fmt.Sprintf("directory override for %s", r.Path)
	case ReasonPinFile:
		return fmt.Sprintf("pinned by %s", r.Path)
	case ReasonDefault:
		return "default toolchain"
	default:
		return "system fallback default"
	}
}

// Resolution is a resolved toolchain name plus why it was chosen.
type Resolution struct {
	Name   string
	Reason Reason
}

// Resolver walks the precedence chain. Getenv defaults to os.Getenv and
// is injectable for tests.
type Resolver struct {
	Lookup   Lookup
	Defaults DefaultSource
	Getenv   func(string) string
	Log      zerolog.Logger
}

// Resolve produces the active toolchain for the given working directory
// and optional explicit shorthand (a bare name, the "+" already
// stripped). It fails with ErrNoDefault when nothing applies.
func (r *Resolver) Resolve(cwd, shorthand string) (Resolution, error) {
	if shorthand != "" {
		return Resolution{Name: shorthand, Reason: Reason{Kind: ReasonShorthand}}, nil
	}

	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if name := getenv(EnvToolchain); name != "" {
		return Resolution{Name: name, Reason: Reason{Kind: ReasonEnvironment}}, nil
	}

	if res, ok, err := r.walk(cwd); err != nil {
		return Resolution{}, err
	} else if ok {
		return res, nil
	}

	if name, ok, err := r.Defaults.Default(); err != nil {
		return Resolution{}, err
	} else if ok {
		return Resolution{Name: name, Reason: Reason{Kind: ReasonDefault}}, nil
	}

	if name, ok := r.Defaults.FallbackDefault(); ok {
		return Resolution{Name: name, Reason: Reason{Kind: ReasonFallback}}, nil
	}

	return Resolution{}, fmt.Errorf("%w (searched from %s)", ErrNoDefault, cwd)
}

// walk checks each ancestor of cwd, nearest first. At one directory the
// settings override beats the pin marker; across directories proximity
// to cwd wins.
func (r *Resolver) walk(cwd string) (Resolution, bool, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("resolve working directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	for {
		if name, ok, err := r.Lookup.DirOverride(dir); err != nil {
			return Resolution{}, false, err
		} else if ok {
			r.Log.Debug().Str("dir", dir).Str("toolchain", name).Msg("directory override matched")
			return Resolution{Name: name, Reason: Reason{Kind: ReasonOverrideDB, Path: dir}}, true, nil
		}

		content, path, ok, err := r.Lookup.PinContent(dir)
		if err != nil {
			return Resolution{}, false, err
		}
		if ok {
			name, err := ParsePin(path, content)
			if err != nil {
				return Resolution{}, false, err
			}
			r.Log.Debug().Str("pin", path).Str("toolchain", name).Msg("pin marker matched")
			return Resolution{Name: name, Reason: Reason{Kind: ReasonPinFile, Path: path}}, true, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Resolution{}, false, nil
		}
		dir = parent
	}
}

// FSLookup is the production Lookup: directory overrides come from the
// settings store, pin markers from the filesystem.
type FSLookup struct {
	Overrides interface {
		DirOverride(dir string) (string, bool, error)
	}
}

func (l *FSLookup) DirOverride(dir string) (string, bool, error) {
	return l.Overrides.DirOverride(dir)
}

func (l *FSLookup) PinContent(dir string) ([]byte, string, bool, error) {
	path := filepath.Join(dir, PinFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("read pin marker %s: %w", path, err)
	}
	return content, path, true, nil
}

// Shorthand extracts a leading +name token from an argument list,
// returning the bare name and the remaining arguments.
func Shorthand(args []string) (string, []string) {
	if len(args) > 0 && strings.HasPrefix(args[0], "+") && len(args[0]) > 1 {
		return args[0][1:], args[1:]
	}
	return "", args
}
