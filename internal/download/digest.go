package download

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest is a content digest as declared by a manifest: an algorithm
// name plus the expected hex digest. Only sha256 is currently known to
// the dist server.
type Digest struct {
	Algorithm string
	Hex       string
}

// ParseDigest parses the "algorithm:hexdigest" form used in manifests.
func ParseDigest(s string) (Digest, error) {
	algo, hexDigest, ok := strings.Cut(s, ":")
	if !ok || algo == "" || hexDigest == "" {
		return Digest{}, fmt.Errorf("malformed digest %q", s)
	}
	return Digest{Algorithm: algo, Hex: strings.ToLower(hexDigest)}, nil
}

func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// MismatchError reports a downloaded artifact whose recomputed digest
// does not match the manifest-declared one. It indicates corruption or
// tampering, never transience, and is not retried.
type MismatchError struct {
	Path string
	Want Digest
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: expected %s, computed %s:%s",
		e.Path, e.Want, e.Want.Algorithm, e.Got)
}

// Verify recomputes the digest over the file at path and compares it to
// the declared value.
func (d Digest) Verify(path string) error {
	if d.Algorithm != "sha256" {
		return fmt.Errorf("unsupported digest algorithm %q", d.Algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for digest verification: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != d.Hex {
		return &MismatchError{Path: path, Want: d, Got: got}
	}
	return nil
}

// ChecksumBytes returns the sha256 hex digest of a byte slice.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
