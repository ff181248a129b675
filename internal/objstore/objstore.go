package objstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slackcourier/internal/fault"
)

// Uploader persists image bytes and returns a public URL. Artifacts are
// ephemeral from this service's point of view; nothing is retained beyond
// the delivery of the run that produced them.
type Uploader interface {
	Upload(ctx context.Context, data []byte, nameHint, messageID, channelID string) (string, error)
}

// Config controls the object store client.
type Config struct {
	BaseURL       string // write endpoint
	PublicBaseURL string // read endpoint; defaults to BaseURL
	Bucket        string
	Timeout       time.Duration // default 30s
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

// Upload PUTs the bytes under a unique object name and returns the public
// URL. Object names embed the message and channel for traceability.
func (c *Client) Upload(ctx context.Context, data []byte, nameHint, messageID, channelID string) (string, error) {
	name := objectName(c.now(), nameHint, messageID, channelID)
	url := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.Bucket, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fault.Dependency("objstore", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Cache-Control", "public, max-age=86400")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fault.Dependency("objstore", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fault.Dependency("objstore", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return fmt.Sprintf("%s/%s/%s", c.cfg.PublicBaseURL, c.cfg.Bucket, name), nil
}

func objectName(ts time.Time, nameHint, messageID, channelID string) string {
	if nameHint == "" {
		nameHint = "table.png"
	}
	nameHint = strings.ReplaceAll(nameHint, " ", "_")
	msg := "msg-unknown"
	if messageID != "" {
		msg = "msg-" + messageID
	}
	ch := "ch-unknown"
	if channelID != "" {
		ch = "ch-" + channelID
	}
	return fmt.Sprintf("images/%d_%s_%s_%s", ts.UnixMilli(), msg, ch, nameHint)
}
