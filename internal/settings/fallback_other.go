//go:build !unix

package settings

// System fallback settings are a Unix-only mechanism.
func fallbackSettingsPath() string {
	return ""
}
