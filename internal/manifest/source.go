package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

const (
	// DefaultDistServer is the release archive root; overridable via
	// TCMUX_DIST_SERVER.
	DefaultDistServer = "https://dist.tcmux.dev"

	// EnvDistServer overrides the dist server root URL.
	EnvDistServer = "TCMUX_DIST_SERVER"

	// MaxBacktrackDays bounds the backward date search. Nightly builds
	// legitimately have gaps; beyond this we report the gap instead of
	// scanning history forever.
	MaxBacktrackDays = 8
)

// UnavailableManifestError reports that no manifest exists for the
// requested channel/date combination.
type UnavailableManifestError struct {
	Channel string
	Date    string
}

func (e *UnavailableManifestError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("no release manifest for channel %q", e.Channel)
	}
	return fmt.Sprintf("no release manifest for channel %q on %s", e.Channel, e.Date)
}

// Source fetches manifests from a dist server.
type Source struct {
	Root   string
	Client *download.Client
	Log    zerolog.Logger
}

// URL is the manifest location for a channel, optionally pinned to a
// date: root/channel-<name>.toml or root/archive/<date>/channel-<name>.toml.
func (s *Source) URL(channel, date string) string {
	if date == "" {
		return fmt.Sprintf("%s/channel-%s.toml", s.Root, channel)
	}
	return fmt.Sprintf("%s/archive/%s/channel-%s.toml", s.Root, date, channel)
}

// Fetch retrieves and parses the manifest for a channel/date. A missing
// manifest surfaces as UnavailableManifestError; a manifest that fetched
// but fails validation is an integrity fault and is not retried.
func (s *Source) Fetch(ctx context.Context, channel, date string) (*Manifest, error) {
	url := s.URL(channel, date)
	s.Log.Debug().Str("url", url).Msg("fetching manifest")

	data, err := s.Client.Get(ctx, url)
	if err != nil {
		if errors.Is(err, download.ErrNotFound) {
			return nil, &UnavailableManifestError{Channel: channel, Date: date}
		}
		return nil, fmt.Errorf("fetch manifest for %s: %w", channel, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest for %s: %w", channel, err)
	}
	return m, nil
}

// Request describes a manifest lookup for an install operation.
type Request struct {
	Channel string
	Date    string // optional; empty means the channel's latest
	Profile string
	Extras  []string
	Target  toolchain.Triple

	// Exact disables the backward date search: the requested date and
	// component set are satisfied exactly or the lookup fails.
	Exact bool
}

// Resolve fetches the manifest satisfying the request, applying the
// backward date search when the requested date has no manifest or its
// manifest cannot supply the requested components: each failed date is
// abandoned and the previous day tried, up to MaxBacktrackDays.
func (s *Source) Resolve(ctx context.Context, req Request) (*Manifest, []ResolvedComponent, error) {
	date := req.Date
	var lastErr error

	for attempt := 0; attempt <= MaxBacktrackDays; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		m, err := s.Fetch(ctx, req.Channel, date)
		switch {
		case err == nil:
			components, cerr := m.ComponentsFor(req.Profile, req.Extras, req.Target)
			if cerr == nil {
				return m, components, nil
			}
			var unavailable *UnavailableError
			if req.Exact || !errors.As(cerr, &unavailable) {
				return nil, nil, cerr
			}
			lastErr = cerr
			date = m.Date // backtrack from the date the manifest declares

		case isUnavailable(err):
			if req.Exact {
				return nil, nil, err
			}
			lastErr = err
			if date == "" {
				// The channel's latest pointer is missing entirely;
				// there is no date to step back from.
				return nil, nil, err
			}

		default:
			return nil, nil, err
		}

		prev, perr := previousDate(date)
		if perr != nil {
			return nil, nil, lastErr
		}
		s.Log.Info().Str("channel", req.Channel).Str("date", prev).
			Msg("backtracking to previous release date")
		date = prev
	}

	return nil, nil, lastErr
}

func isUnavailable(err error) bool {
	var u *UnavailableManifestError
	return errors.As(err, &u)
}

func previousDate(date string) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("bad manifest date %q: %w", date, err)
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02"), nil
}
