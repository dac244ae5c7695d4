package toolchain

import (
	"fmt"
	"regexp"
	"strings"
)

// Target components known to the dist server. Partial triples are parsed
// against these fixed lists; full triples are near-arbitrary strings.
var (
	listArchs = []string{
		"i386", "i586", "i686", "x86_64", "arm", "armv7", "aarch64",
		"riscv64", "loongarch64", "powerpc", "powerpc64", "powerpc64le",
		"s390x", "mips", "mipsel", "mips64", "mips64el",
	}
	listOSes = []string{
		"pc-windows", "unknown-linux", "apple-darwin", "unknown-netbsd",
		"apple-ios", "linux", "unknown-freebsd", "unknown-openbsd",
	}
	listEnvs = []string{
		"gnu", "msvc", "gnueabi", "gnueabihf", "gnuabi64",
		"androideabi", "android", "musl",
	}
)

const (
	channelPattern = `(nightly|beta|stable|\d+\.\d+(?:\.\d+)?)`
	datePattern    = `(\d{4}-\d{2}-\d{2})`
)

var (
	partialDescRE = regexp.MustCompile(
		`^` + channelPattern + `(?:-` + datePattern + `)?(?:-(.*))?$`)

	// Prepending "-" to the candidate makes every component "-"-delimited,
	// which keeps the alternation straightforward.
	partialTripleRE = regexp.MustCompile(fmt.Sprintf(
		`^(?:-(%s))?(?:-(%s))?(?:-(%s))?$`,
		strings.Join(listArchs, "|"),
		strings.Join(listOSes, "|"),
		strings.Join(listEnvs, "|")))
)

// Triple is a full target triple such as "x86_64-unknown-linux-gnu".
type Triple string

// PartialTriple is a target triple with any of its components omitted,
// as they appear in user-supplied toolchain names like "stable-msvc".
type PartialTriple struct {
	Arch string
	OS   string
	Env  string
}

// ParsePartialTriple parses name against the known target components.
// The empty string is a valid, fully unspecified partial triple.
func ParsePartialTriple(name string) (PartialTriple, bool) {
	if name == "" {
		return PartialTriple{}, true
	}
	m := partialTripleRE.FindStringSubmatch("-" + name)
	if m == nil {
		return PartialTriple{}, false
	}
	return PartialTriple{Arch: m[1], OS: m[2], Env: m[3]}, true
}

// IsEmpty reports whether no triple component was specified.
func (t PartialTriple) IsEmpty() bool {
	return t.Arch == "" && t.OS == "" && t.Env == ""
}

// PartialDesc is a channel descriptor as parsed from a toolchain name,
// before resolution against a host triple.
type PartialDesc struct {
	Channel string // "stable", "beta", "nightly" or an explicit version
	Date    string // optional YYYY-MM-DD
	Target  PartialTriple
}

// Desc is a fully resolved channel descriptor. The target triple is
// always complete, and the descriptor names the toolchain's installation
// directory.
type Desc struct {
	Channel string
	Date    string
	Target  Triple
}

// ParsePartialDesc parses a channel-based toolchain name. Names that do
// not match the channel grammar are not an error here; callers fall back
// to treating them as custom names via ParseID.
func ParsePartialDesc(name string) (PartialDesc, error) {
	m := partialDescRE.FindStringSubmatch(name)
	if m == nil {
		return PartialDesc{}, fmt.Errorf("invalid toolchain name: %q", name)
	}
	target, ok := ParsePartialTriple(m[3])
	if !ok {
		return PartialDesc{}, fmt.Errorf("invalid toolchain name: %q", name)
	}
	return PartialDesc{Channel: m[1], Date: m[2], Target: target}, nil
}

// HasTriple reports whether the name carried any target component.
func (d PartialDesc) HasTriple() bool {
	return !d.Target.IsEmpty()
}

// Resolve completes the descriptor against the given host triple.
// Components present in the name win; missing ones come from the host.
// If the name specified an OS, the host environment is not assumed, so
// "stable-x86_64-unknown-linux" stays environment-free.
func (d PartialDesc) Resolve(host Triple) (Desc, error) {
	hp, ok := ParsePartialTriple(string(host))
	if !ok || hp.Arch == "" || hp.OS == "" {
		return Desc{}, fmt.Errorf("host triple %q is not a usable target triple", host)
	}

	arch := d.Target.Arch
	if arch == "" {
		arch = hp.Arch
	}
	os := d.Target.OS
	if os == "" {
		os = hp.OS
	}
	env := d.Target.Env
	if env == "" && d.Target.OS == "" {
		env = hp.Env
	}

	trip := arch + "-" + os
	if env != "" {
		trip += "-" + env
	}
	return Desc{Channel: d.Channel, Date: d.Date, Target: Triple(trip)}, nil
}

// ManifestName is the channel identity used for manifest lookup:
// "$channel" or "$channel-$date".
func (d Desc) ManifestName() string {
	if d.Date == "" {
		return d.Channel
	}
	return d.Channel + "-" + d.Date
}

// IsTracking reports whether the descriptor follows a moving channel
// rather than pinning a date or explicit version.
func (d Desc) IsTracking() bool {
	switch d.Channel {
	case "nightly", "beta", "stable":
		return d.Date == ""
	}
	return false
}

func (d Desc) String() string {
	return d.ManifestName() + "-" + string(d.Target)
}

// ID identifies a toolchain. Exactly one of Desc or Custom is set.
// IDs are immutable once constructed.
type ID struct {
	Desc   *Desc
	Custom string
}

// ParseID parses any toolchain name. Channel-based names resolve against
// host; everything else becomes a custom name verbatim.
func ParseID(name string, host Triple) (ID, error) {
	if name == "" {
		return ID{}, fmt.Errorf("empty toolchain name")
	}
	if pd, err := ParsePartialDesc(name); err == nil {
		desc, err := pd.Resolve(host)
		if err != nil {
			return ID{}, err
		}
		return ID{Desc: &desc}, nil
	}
	return ID{Custom: name}, nil
}

// IsCustom reports whether the ID names a custom (non-distributable)
// toolchain.
func (id ID) IsCustom() bool {
	return id.Custom != ""
}

// Name is the canonical toolchain name, used for the installation
// directory and for display.
func (id ID) Name() string {
	if id.IsCustom() {
		return id.Custom
	}
	return id.Desc.String()
}

func (id ID) String() string {
	return id.Name()
}

// ValidateChannelName checks a bare channel name as it may appear in a
// pin marker file or settings default: a channel or explicit version with
// an optional date, and no target triple.
func ValidateChannelName(name string) error {
	d, err := ParsePartialDesc(name)
	if err != nil {
		return err
	}
	if d.HasTriple() {
		return fmt.Errorf("target triple not permitted in channel name %q", name)
	}
	return nil
}
