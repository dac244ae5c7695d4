package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const host = Triple("x86_64-unknown-linux-gnu")

func TestParsePartialDesc(t *testing.T) {
	tests := []struct {
		name    string
		want    PartialDesc
		wantErr bool
	}{
		{name: "stable", want: PartialDesc{Channel: "stable"}},
		{name: "beta", want: PartialDesc{Channel: "beta"}},
		{name: "nightly", want: PartialDesc{Channel: "nightly"}},
		{name: "1.72", want: PartialDesc{Channel: "1.72"}},
		{name: "1.72.1", want: PartialDesc{Channel: "1.72.1"}},
		{
			name: "nightly-2026-08-01",
			want: PartialDesc{Channel: "nightly", Date: "2026-08-01"},
		},
		{
			name: "stable-msvc",
			want: PartialDesc{Channel: "stable", Target: PartialTriple{Env: "msvc"}},
		},
		{
			name: "stable-x86_64",
			want: PartialDesc{Channel: "stable", Target: PartialTriple{Arch: "x86_64"}},
		},
		{
			name: "nightly-2026-08-01-x86_64-pc-windows-msvc",
			want: PartialDesc{
				Channel: "nightly",
				Date:    "2026-08-01",
				Target:  PartialTriple{Arch: "x86_64", OS: "pc-windows", Env: "msvc"},
			},
		},
		{name: "", wantErr: true},
		{name: "gibberish", wantErr: true},
		{name: "stable-bogusarch", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePartialDesc(tc.name)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPartialDescResolve(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare channel takes full host", in: "stable", want: "stable-x86_64-unknown-linux-gnu"},
		{name: "env only", in: "stable-musl", want: "stable-x86_64-unknown-linux-musl"},
		{name: "arch only", in: "stable-aarch64", want: "stable-aarch64-unknown-linux-gnu"},
		{
			// Naming an OS drops the host environment assumption.
			name: "os without env stays env-free",
			in:   "stable-x86_64-unknown-linux",
			want: "stable-x86_64-unknown-linux",
		},
		{
			name: "dated nightly",
			in:   "nightly-2026-08-01",
			want: "nightly-2026-08-01-x86_64-unknown-linux-gnu",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pd, err := ParsePartialDesc(tc.in)
			require.NoError(t, err)
			desc, err := pd.Resolve(host)
			require.NoError(t, err)
			assert.Equal(t, tc.want, desc.String())
		})
	}
}

func TestDescManifestName(t *testing.T) {
	d := Desc{Channel: "nightly", Target: host}
	assert.Equal(t, "nightly", d.ManifestName())
	assert.True(t, d.IsTracking())

	d.Date = "2026-08-01"
	assert.Equal(t, "nightly-2026-08-01", d.ManifestName())
	assert.False(t, d.IsTracking())

	v := Desc{Channel: "1.72.0", Target: host}
	assert.False(t, v.IsTracking())
}

func TestParseID(t *testing.T) {
	id, err := ParseID("stable", host)
	require.NoError(t, err)
	assert.False(t, id.IsCustom())
	assert.Equal(t, "stable-x86_64-unknown-linux-gnu", id.Name())

	id, err = ParseID("my-local-build", host)
	require.NoError(t, err)
	assert.True(t, id.IsCustom())
	assert.Equal(t, "my-local-build", id.Name())

	_, err = ParseID("", host)
	assert.Error(t, err)
}

func TestValidateChannelName(t *testing.T) {
	assert.NoError(t, ValidateChannelName("stable"))
	assert.NoError(t, ValidateChannelName("nightly-2026-08-01"))
	assert.NoError(t, ValidateChannelName("1.72.0"))

	assert.Error(t, ValidateChannelName("stable-msvc"), "triple component not allowed")
	assert.Error(t, ValidateChannelName("not a channel"))
}
