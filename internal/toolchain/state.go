package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// ComponentsFile is the per-toolchain record of installed components.
// Its presence is the durable Installed marker: the installer creates it
// as the final commit step and removes it as the first uninstall step.
const ComponentsFile = "components.toml"

// State is the resting state of a toolchain directory. Installing and
// uninstalling are transient conditions inside the installer's critical
// section and are never observable here.
type State int

const (
	StateAbsent State = iota
	StateInstalled
)

func (s State) String() string {
	if s == StateInstalled {
		return "installed"
	}
	return "absent"
}

// InstalledRecord is the serialized form of ComponentsFile.
type InstalledRecord struct {
	ManifestHash string   `toml:"manifest_hash,omitempty"`
	Components   []string `toml:"components"`
}

// NotInstalledError reports an operation against a toolchain that is
// not in the Installed state.
type NotInstalledError struct {
	Name string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("toolchain %q is not installed", e.Name)
}

// Dir returns the installation directory for a toolchain name under the
// given root data directory.
func Dir(root, name string) string {
	return filepath.Join(root, "toolchains", name)
}

// BinaryPath returns the path of a proxied binary inside a toolchain's
// installation.
func BinaryPath(root, name, binary string) string {
	if runtime.GOOS == "windows" && filepath.Ext(binary) == "" {
		binary += ".exe"
	}
	return filepath.Join(Dir(root, name), "bin", binary)
}

// Inspect reports the resting state of a toolchain and, when installed,
// its recorded component set.
func Inspect(root, name string) (State, *InstalledRecord, error) {
	data, err := os.ReadFile(filepath.Join(Dir(root, name), ComponentsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return StateAbsent, nil, nil
		}
		return StateAbsent, nil, fmt.Errorf("read component record: %w", err)
	}

	var rec InstalledRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return StateAbsent, nil, fmt.Errorf("parse component record for %s: %w", name, err)
	}
	return StateInstalled, &rec, nil
}

// List returns the names of installed toolchains under root, sorted by
// directory order. Directories without a component record are skipped:
// they are either mid-transaction staging leftovers or foreign data.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, "toolchains"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read toolchains dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, _, err := Inspect(root, e.Name())
		if err != nil || state != StateInstalled {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
