package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
)

// manifestDoc builds a minimal nightly manifest for one date. The
// debugger component's availability is the knob the backtracking tests
// turn.
func manifestDoc(date string, debuggerAvailable bool) string {
	doc := fmt.Sprintf(`
manifest-version = "2"
date = %q

[profiles]
default = ["compiler"]

[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/compiler.tar.gz"
hash = %q

[components.debugger.targets."x86_64-unknown-linux-gnu"]
`, date, sampleHash)
	if debuggerAvailable {
		doc += fmt.Sprintf("available = true\nurl = \"https://dist.example/debugger.tar.gz\"\nhash = %q\n", sampleHash)
	} else {
		doc += "available = false\n"
	}
	return doc
}

// fakeDist serves channel manifests from a path map.
func fakeDist(t *testing.T, docs map[string]string) *Source {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(doc))
	}))
	t.Cleanup(server.Close)

	return &Source{
		Root:   server.URL,
		Client: download.NewClient(zerolog.Nop()),
		Log:    zerolog.Nop(),
	}
}

func TestSourceURL(t *testing.T) {
	s := &Source{Root: "https://dist.example"}
	assert.Equal(t, "https://dist.example/channel-nightly.toml", s.URL("nightly", ""))
	assert.Equal(t, "https://dist.example/archive/2026-08-19/channel-nightly.toml",
		s.URL("nightly", "2026-08-19"))
}

func TestFetch(t *testing.T) {
	s := fakeDist(t, map[string]string{
		"/channel-nightly.toml": manifestDoc("2026-08-20", true),
	})
	ctx := context.Background()

	m, err := s.Fetch(ctx, "nightly", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-20", m.Date)

	_, err = s.Fetch(ctx, "stable", "")
	var unavailable *UnavailableManifestError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "stable", unavailable.Channel)
}

func TestResolveLatest(t *testing.T) {
	s := fakeDist(t, map[string]string{
		"/channel-nightly.toml": manifestDoc("2026-08-20", true),
	})

	m, components, err := s.Resolve(context.Background(), Request{
		Channel: "nightly",
		Profile: "default",
		Extras:  []string{"debugger"},
		Target:  testTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-20", m.Date)
	assert.Len(t, components, 2)
}

func TestResolveBacktracksOverComponentGap(t *testing.T) {
	// The latest nightly dropped the debugger; two days earlier it was
	// still there. The search must land on the newest date that carries
	// the full component set.
	s := fakeDist(t, map[string]string{
		"/channel-nightly.toml":                    manifestDoc("2026-08-20", false),
		"/archive/2026-08-19/channel-nightly.toml": manifestDoc("2026-08-19", false),
		"/archive/2026-08-18/channel-nightly.toml": manifestDoc("2026-08-18", true),
	})

	m, components, err := s.Resolve(context.Background(), Request{
		Channel: "nightly",
		Profile: "default",
		Extras:  []string{"debugger"},
		Target:  testTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-18", m.Date)
	assert.Len(t, components, 2)
}

func TestResolveBacktracksOverMissingManifest(t *testing.T) {
	// Nightlies have gaps: the requested date never produced a manifest.
	s := fakeDist(t, map[string]string{
		"/archive/2026-08-16/channel-nightly.toml": manifestDoc("2026-08-16", true),
	})

	m, _, err := s.Resolve(context.Background(), Request{
		Channel: "nightly",
		Date:    "2026-08-18",
		Profile: "default",
		Target:  testTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-16", m.Date)
}

func TestResolveExactDisablesBacktracking(t *testing.T) {
	s := fakeDist(t, map[string]string{
		"/channel-nightly.toml":                    manifestDoc("2026-08-20", false),
		"/archive/2026-08-19/channel-nightly.toml": manifestDoc("2026-08-19", true),
	})
	ctx := context.Background()

	// Component gap: fail instead of stepping back.
	_, _, err := s.Resolve(ctx, Request{
		Channel: "nightly",
		Profile: "default",
		Extras:  []string{"debugger"},
		Target:  testTarget,
		Exact:   true,
	})
	var unavailable *UnavailableError
	assert.True(t, errors.As(err, &unavailable))

	// Missing dated manifest: same.
	_, _, err = s.Resolve(ctx, Request{
		Channel: "nightly",
		Date:    "2026-08-21",
		Profile: "default",
		Target:  testTarget,
		Exact:   true,
	})
	var missing *UnavailableManifestError
	assert.True(t, errors.As(err, &missing))
}

func TestResolveMissingLatestPointerFailsImmediately(t *testing.T) {
	s := fakeDist(t, map[string]string{})

	_, _, err := s.Resolve(context.Background(), Request{
		Channel: "stable",
		Profile: "default",
		Target:  testTarget,
	})
	var missing *UnavailableManifestError
	require.True(t, errors.As(err, &missing))
	assert.Empty(t, missing.Date)
}

func TestResolveGivesUpBeyondBacktrackWindow(t *testing.T) {
	// Only a manifest far older than the window exists; the search is
	// bounded and reports the gap rather than scanning history.
	s := fakeDist(t, map[string]string{
		"/archive/2026-08-01/channel-nightly.toml": manifestDoc("2026-08-01", true),
	})

	_, _, err := s.Resolve(context.Background(), Request{
		Channel: "nightly",
		Date:    "2026-08-20",
		Profile: "default",
		Target:  testTarget,
	})
	var missing *UnavailableManifestError
	assert.True(t, errors.As(err, &missing))
}
