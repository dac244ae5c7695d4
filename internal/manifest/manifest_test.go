package manifest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/download"
	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

const testTarget = toolchain.Triple("x86_64-unknown-linux-gnu")

const sampleHash = "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func sampleManifest() string {
	return fmt.Sprintf(`
manifest-version = "2"
date = "2026-08-20"

[profiles]
default = ["compiler", "stdlib", "docs"]
minimal = ["compiler"]

[renames]
documentation = "docs"

[components.compiler]
version = "1.72.0"
[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/compiler-linux.tar.gz"
hash = %[1]q
[components.compiler.targets."aarch64-apple-darwin"]
available = false

[components.stdlib]
[components.stdlib.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/stdlib-linux.tar.gz"
hash = %[1]q

[components.docs]
[components.docs.targets."*"]
available = true
url = "https://dist.example/docs.tar.gz"
hash = %[1]q

[components.debugger]
[components.debugger.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/debugger-linux.tar.gz"
hash = %[1]q
`, sampleHash)
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleManifest()))
	require.NoError(t, err)

	assert.Equal(t, "2026-08-20", m.Date)
	assert.Len(t, m.Components, 4)
	assert.Equal(t, "1.72.0", m.Components["compiler"].Version)
	assert.Equal(t, download.ChecksumBytes([]byte(sampleManifest())), m.Hash)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not toml", "[[["},
		{"wrong version", `manifest-version = "1"` + "\ndate = \"2026-08-20\"\n"},
		{"bad date", `manifest-version = "2"` + "\ndate = \"yesterday\"\n"},
		{"no components", `manifest-version = "2"` + "\ndate = \"2026-08-20\"\n"},
		{
			"available without url",
			`
manifest-version = "2"
date = "2026-08-20"
[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
`,
		},
		{
			"bad digest form",
			`
manifest-version = "2"
date = "2026-08-20"
[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/a.tar.gz"
hash = "justhexnoalgo"
`,
		},
		{
			"profile names unknown component",
			`
manifest-version = "2"
date = "2026-08-20"
[profiles]
default = ["ghost"]
[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/a.tar.gz"
hash = "sha256:abc123"
`,
		},
		{
			"rename to unknown component",
			`
manifest-version = "2"
date = "2026-08-20"
[renames]
old = "ghost"
[components.compiler.targets."x86_64-unknown-linux-gnu"]
available = true
url = "https://dist.example/a.tar.gz"
hash = "sha256:abc123"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.ErrorIs(t, err, ErrUnparsable)
		})
	}
}

func TestComponentsFor(t *testing.T) {
	m, err := Parse([]byte(sampleManifest()))
	require.NoError(t, err)

	t.Run("default profile with wildcard member", func(t *testing.T) {
		got, err := m.ComponentsFor("default", nil, testTarget)
		require.NoError(t, err)
		names := make([]string, len(got))
		for i, c := range got {
			names[i] = c.Name
		}
		assert.Equal(t, []string{"compiler", "stdlib", "docs"}, names)
	})

	t.Run("extras are added and deduplicated", func(t *testing.T) {
		got, err := m.ComponentsFor("minimal", []string{"debugger", "compiler"}, testTarget)
		require.NoError(t, err)
		names := make([]string, len(got))
		for i, c := range got {
			names[i] = c.Name
		}
		assert.Equal(t, []string{"compiler", "debugger"}, names)
	})

	t.Run("renames chase to the current name", func(t *testing.T) {
		got, err := m.ComponentsFor("minimal", []string{"documentation"}, testTarget)
		require.NoError(t, err)
		assert.Equal(t, "docs", got[1].Name)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := m.ComponentsFor("everything", nil, testTarget)
		assert.Error(t, err)
	})

	t.Run("unavailable target yields UnavailableError", func(t *testing.T) {
		_, err := m.ComponentsFor("minimal", nil, toolchain.Triple("aarch64-apple-darwin"))
		var unavailable *UnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.Equal(t, "compiler", unavailable.Component)
		assert.Equal(t, "2026-08-20", unavailable.Date)
	})

	t.Run("unknown extra yields UnavailableError", func(t *testing.T) {
		_, err := m.ComponentsFor("minimal", []string{"ghost"}, testTarget)
		var unavailable *UnavailableError
		assert.True(t, errors.As(err, &unavailable))
	})
}
