package resolver

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/tcmux/internal/toolchain"
)

// PinFileName is the toolchain-pin marker file looked for in each
// directory during the override walk.
const PinFileName = "tcmux-toolchain"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PinError reports a marker file whose content failed validation.
// Malformed pins are surfaced, never silently skipped: a typo in a pin
// should not quietly fall through to an outer override or the default.
type PinError struct {
	Path   string
	Reason string
}

func (e *PinError) Error() string {
	return fmt.Sprintf("invalid toolchain pin %s: %s", e.Path, e.Reason)
}

// ParsePin validates raw marker file content and returns the pinned
// channel name. Valid content is a single US-ASCII line holding a
// channel name, a bare version number, or a dated channel spec.
func ParsePin(path string, content []byte) (string, error) {
	if bytes.HasPrefix(content, utf8BOM) {
		return "", &PinError{Path: path, Reason: "byte-order mark not permitted"}
	}
	for _, b := range content {
		if b != '\n' && b != '\r' && (b < 0x20 || b > 0x7E) {
			return "", &PinError{Path: path, Reason: "content must be US-ASCII"}
		}
	}

	text := strings.TrimRight(string(content), "\r\n")
	if text == "" {
		return "", &PinError{Path: path, Reason: "empty pin"}
	}
	if strings.ContainsAny(text, "\r\n") {
		return "", &PinError{Path: path, Reason: "must be a single line"}
	}

	name := strings.TrimSpace(text)
	if err := toolchain.ValidateChannelName(name); err != nil {
		return "", &PinError{Path: path, Reason: fmt.Sprintf("not a channel name or version: %q", name)}
	}
	return name, nil
}
