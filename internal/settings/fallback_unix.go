//go:build unix

package settings

// fallbackSettingsPath is the read-only, system-wide fallback settings
// location. Only default_toolchain is honored from it.
func fallbackSettingsPath() string {
	return "/etc/tcmux/settings.toml"
}
