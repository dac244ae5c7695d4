// Package manifest models the channel manifest: the versioned remote
// document enumerating components, per-target availability, download
// URLs and content digests for one channel/date.
package manifest

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

// SupportedVersion is the manifest schema version this release parses.
const SupportedVersion = "2"

// WildcardTarget marks a component entry valid for every target.
const WildcardTarget = "*"

var dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ErrUnparsable marks a manifest document that fetched fine but failed
// validation. Like digest mismatches, this is an integrity fault and is
// never retried.
var ErrUnparsable = errors.New("unparsable manifest")

// UnavailableError reports a component the manifest does not offer for
// the requested target. It is the trigger for backward date search.
type UnavailableError struct {
	Component string
	Target    toolchain.Triple
	Date      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("component %q is not available for %s in the %s manifest",
		e.Component, e.Target, e.Date)
}

// Manifest is the parsed channel manifest.
type Manifest struct {
	Version    string               `toml:"manifest-version"`
	Date       string               `toml:"date"`
	Components map[string]Component `toml:"components"`
	Renames    map[string]string    `toml:"renames,omitempty"`
	Profiles   map[string][]string  `toml:"profiles"`

	// Hash is the digest of the raw manifest bytes, recorded by the
	// installer for change detection. Not part of the document.
	Hash string `toml:"-"`
}

// Component declares one downloadable piece of a toolchain with its
// per-target availability.
type Component struct {
	Version string                 `toml:"version,omitempty"`
	Targets map[string]TargetEntry `toml:"targets"`
}

// TargetEntry is a component's artifact for one target triple.
type TargetEntry struct {
	Available bool   `toml:"available"`
	URL       string `toml:"url,omitempty"`
	Hash      string `toml:"hash,omitempty"`
}

// Digest parses the entry's declared content digest.
func (e TargetEntry) Digest() (download.Digest, error) {
	return download.ParseDigest(e.Hash)
}

// Parse decodes and validates a manifest document, recording the digest
// of the raw bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.Hash = download.ChecksumBytes(data)
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Version != SupportedVersion {
		return fmt.Errorf("%w: unsupported manifest version %q", ErrUnparsable, m.Version)
	}
	if !dateRE.MatchString(m.Date) {
		return fmt.Errorf("%w: bad date %q", ErrUnparsable, m.Date)
	}
	if len(m.Components) == 0 {
		return fmt.Errorf("%w: no components", ErrUnparsable)
	}
	for name, c := range m.Components {
		for target, entry := range c.Targets {
			if !entry.Available {
				continue
			}
			if entry.URL == "" || entry.Hash == "" {
				return fmt.Errorf("%w: component %q target %q is available but lacks url or hash",
					ErrUnparsable, name, target)
			}
			if _, err := entry.Digest(); err != nil {
				return fmt.Errorf("%w: component %q target %q: %v", ErrUnparsable, name, target, err)
			}
		}
	}
	for profile, members := range m.Profiles {
		for _, member := range members {
			if _, ok := m.Components[m.rename(member)]; !ok {
				return fmt.Errorf("%w: profile %q references unknown component %q",
					ErrUnparsable, profile, member)
			}
		}
	}
	for from, to := range m.Renames {
		if _, ok := m.Components[to]; !ok {
			return fmt.Errorf("%w: rename %q -> %q targets unknown component", ErrUnparsable, from, to)
		}
	}
	return nil
}

// rename chases a component rename, returning the current name.
func (m *Manifest) rename(name string) string {
	if renamed, ok := m.Renames[name]; ok {
		return renamed
	}
	return name
}

// ResolvedComponent is a component selected for installation, with the
// artifact entry for the requested target.
type ResolvedComponent struct {
	Name  string
	Entry TargetEntry
}

// entryFor picks the target-specific entry, falling back to a wildcard
// entry for target-independent components (docs, sources).
func (c Component) entryFor(target toolchain.Triple) (TargetEntry, bool) {
	if e, ok := c.Targets[string(target)]; ok {
		return e, true
	}
	e, ok := c.Targets[WildcardTarget]
	return e, ok
}

// ComponentsFor resolves a profile plus explicit extras into concrete
// artifact entries for one target. Profile membership is static
// metadata; an unknown profile is an error, and any member unavailable
// for the target yields an UnavailableError.
func (m *Manifest) ComponentsFor(profile string, extras []string, target toolchain.Triple) ([]ResolvedComponent, error) {
	members, ok := m.Profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q in the %s manifest", profile, m.Date)
	}

	names := make([]string, 0, len(members)+len(extras))
	seen := map[string]bool{}
	for _, n := range append(append([]string{}, members...), extras...) {
		n = m.rename(n)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	resolved := make([]ResolvedComponent, 0, len(names))
	for _, name := range names {
		c, ok := m.Components[name]
		if !ok {
			return nil, &UnavailableError{Component: name, Target: target, Date: m.Date}
		}
		entry, ok := c.entryFor(target)
		if !ok || !entry.Available {
			return nil, &UnavailableError{Component: name, Target: target, Date: m.Date}
		}
		resolved = append(resolved, ResolvedComponent{Name: name, Entry: entry})
	}
	return resolved, nil
}
