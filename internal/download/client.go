// Package download fetches remote artifacts with bounded retry and
// verifies them against manifest-declared digests.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetries bounds retry attempts for transient transport
	// failures. Integrity failures are never retried.
	DefaultRetries = 3

	// DefaultTimeout caps a single HTTP request.
	DefaultTimeout = 5 * time.Minute

	userAgent = "tcmux/1.0"

	// EnvProxyAuthorization carries an explicit Proxy-Authorization
	// header value, complementing the standard proxy environment
	// variables honored by the transport.
	EnvProxyAuthorization = "TCMUX_PROXY_AUTHORIZATION"
)

// ErrNotFound marks a 404 from the dist server; callers distinguish it
// from transport failure because a missing nightly is a legitimate gap.
var ErrNotFound = errors.New("not found on dist server")

// FailedError wraps a transport failure that persisted through retries.
type FailedError struct {
	URL string
	Err error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("download of %s failed after retries: %v", e.URL, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Client downloads over HTTPS. Standard proxy environment variables are
// honored through the underlying transport.
type Client struct {
	http *retryablehttp.Client
	log  zerolog.Logger
}

// NewClient builds a client with exponential-backoff retry for
// transient failures (timeouts, connection resets, 5xx).
func NewClient(log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultRetries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 16 * time.Second
	rc.Logger = nil
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = DefaultTimeout

	return &Client{http: rc, log: log}
}

func (c *Client) newRequest(ctx context.Context, url string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if auth := os.Getenv(EnvProxyAuthorization); auth != "" {
		req.Header.Set("Proxy-Authorization", auth)
	}
	return req, nil
}

// Get fetches a small document (a manifest) into memory.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FailedError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &FailedError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FailedError{URL: url, Err: err}
	}
	return data, nil
}

// File downloads a URL to destPath through a temporary file and an
// atomic rename, so a partial download is never visible at destPath.
func (c *Client) File(ctx context.Context, url, destPath string) error {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &FailedError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return &FailedError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return &FailedError{URL: url, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// Verified downloads a component archive and enforces its declared
// digest. A cached file that still matches the digest short-circuits
// the download, which is what makes repeat installs re-download
// nothing. A mismatch discards the artifact and is fatal.
func (c *Client) Verified(ctx context.Context, url, destPath string, digest Digest) error {
	if _, err := os.Stat(destPath); err == nil {
		if digest.Verify(destPath) == nil {
			c.log.Debug().Str("path", destPath).Msg("using cached download")
			return nil
		}
		// Stale or corrupt cache entry; refetch.
		os.Remove(destPath)
	}

	c.log.Debug().Str("url", url).Msg("downloading")
	if err := c.File(ctx, url, destPath); err != nil {
		return err
	}

	if err := digest.Verify(destPath); err != nil {
		os.Remove(destPath)
		return err
	}
	return nil
}
