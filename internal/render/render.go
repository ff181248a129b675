package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slackcourier/internal/fault"
)

// Renderer turns HTML into image bytes. Failures must never propagate past
// the content resolution pipeline; callers catch, log and degrade to
// no-visualization.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Config controls the headless render engine client.
type Config struct {
	BaseURL string
	Timeout time.Duration // total wall-clock bound, default 60s
}

// Client posts HTML to a headless rendering service and receives PNG bytes.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Render(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/render", strings.NewReader(html))
	if err != nil {
		return nil, fault.Dependency("renderer", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "image/png")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Dependency("renderer", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fault.Dependency("renderer", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Dependency("renderer", err)
	}
	if len(b) == 0 {
		return nil, fault.Dependency("renderer", fmt.Errorf("empty image"))
	}
	return b, nil
}
