package slack

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ProbeImage reports whether a URL serves a publicly reachable image that the
// platform can embed. Tries HEAD first, then a single-byte ranged GET for
// servers that reject HEAD. Any failure, including a slow origin, means "not
// embeddable"; the caller falls back to uploading the bytes instead.
func (c *Client) ProbeImage(ctx context.Context, url string) bool {
	if ok, decided := c.probeOnce(ctx, http.MethodHead, url); decided {
		return ok
	}
	ok, _ := c.probeOnce(ctx, http.MethodGet, url)
	return ok
}

// probeOnce returns (embeddable, decided). decided is false only when the
// method itself was rejected and a fallback is worth trying.
func (c *Client) probeOnce(ctx context.Context, method, url string) (bool, bool) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false, true
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := c.probing.Do(req)
	if err != nil {
		c.log.Debug("image probe failed", slog.String("url", url), slog.Any("err", err))
		return false, true
	}
	defer resp.Body.Close()

	if method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
		return false, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, true
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "image/"), true
}

// FetchImage downloads image bytes for upload fallback.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: "image_fetch_failed", Hint: resp.Status}
	}
	// Renders are small; the cap only guards against a misbehaving origin.
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
