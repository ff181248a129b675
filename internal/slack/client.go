package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"slackcourier/internal/fault"
)

// Config configures the messaging platform client.
type Config struct {
	BaseURL      string        // default "https://slack.com/api"
	SendTimeout  time.Duration // default 15s
	ProbeTimeout time.Duration // default 5s
	RatePerSec   int           // default 1
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://slack.com/api"
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
}

// Client talks to the chat.postMessage-shaped web API. All calls pass through
// a shared limiter so bursts of threaded replies stay under the platform's
// per-minute budget.
type Client struct {
	cfg     Config
	http    *http.Client
	probing *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.SendTimeout},
		probing: &http.Client{Timeout: cfg.ProbeTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

// APIError is a platform-level rejection (HTTP 200, ok=false).
type APIError struct {
	Code string
	Hint string
}

func (e *APIError) Error() string {
	if e.Hint == "" {
		return "slack: " + e.Code
	}
	return fmt.Sprintf("slack: %s (%s)", e.Code, e.Hint)
}

// hintFor expands the platform's terse error codes so a run's stored error
// message is actionable without consulting the API docs.
func hintFor(code string) string {
	switch code {
	case "invalid_blocks":
		return "block payload rejected, check image URLs and block structure"
	case "channel_not_found":
		return "channel does not exist or the app cannot see it"
	case "not_in_channel":
		return "app must be invited to the channel"
	case "invalid_auth", "token_revoked", "account_inactive":
		return "workspace token is invalid or revoked"
	case "msg_too_long":
		return "message text exceeds the platform limit"
	default:
		return ""
	}
}

// SendRequest is one chat.postMessage call. A non-empty ThreadTS posts into
// an existing thread.
type SendRequest struct {
	Token    string
	Channel  string
	Text     string
	Blocks   json.RawMessage
	ThreadTS string
}

// SendResult identifies the posted message.
type SendResult struct {
	TS      string
	Channel string
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
	Error   string `json:"error"`
	File    struct {
		Permalink string `json:"permalink"`
	} `json:"file"`
}

// PostMessage sends one message. Rate-limited responses are retried once
// after the advertised delay, transient 5xx likewise; platform rejections are
// never retried.
func (c *Client) PostMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	body := map[string]any{
		"channel": req.Channel,
		"text":    req.Text,
	}
	if len(req.Blocks) > 0 {
		body["blocks"] = req.Blocks
	}
	if req.ThreadTS != "" {
		body["thread_ts"] = req.ThreadTS
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Dependency("slack", err)
	}

	var resp *apiResponse
	for attempt := 0; ; attempt++ {
		resp, err = c.call(ctx, "chat.postMessage", req.Token, "application/json; charset=utf-8", bytes.NewReader(payload))
		if err == nil || attempt >= 1 {
			break
		}
		var retry *retryableError
		if !errors.As(err, &retry) {
			break
		}
		c.log.Warn("slack send retrying",
			slog.Int("attempt", attempt+1), slog.Duration("after", retry.after))
		select {
		case <-ctx.Done():
			return nil, fault.Dependency("slack", ctx.Err())
		case <-time.After(retry.after):
		}
	}
	if err != nil {
		return nil, err
	}
	return &SendResult{TS: resp.TS, Channel: resp.Channel}, nil
}

// UploadFile uploads image bytes to a channel, optionally into a thread. Used
// when a rendered visualization is not publicly embeddable.
func (c *Client) UploadFile(ctx context.Context, token, channel, threadTS, filename string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("channels", channel)
	if threadTS != "" {
		_ = w.WriteField("thread_ts", threadTS)
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fault.Dependency("slack", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fault.Dependency("slack", err)
	}
	if err := w.Close(); err != nil {
		return fault.Dependency("slack", err)
	}

	_, err = c.call(ctx, "files.upload", token, w.FormDataContentType(), &buf)
	return err
}

type retryableError struct {
	after time.Duration
	cause error
}

func (e *retryableError) Error() string { return e.cause.Error() }
func (e *retryableError) Unwrap() error { return e.cause }

func (c *Client) call(ctx context.Context, method, token, contentType string, body io.Reader) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fault.Dependency("slack", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+method, body)
	if err != nil {
		return nil, fault.Dependency("slack", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Dependency("slack", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		after := 2 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				after = time.Duration(secs) * time.Second
			}
		}
		return nil, fault.Dependency("slack", &retryableError{
			after: after,
			cause: fmt.Errorf("rate limited (%s)", method),
		})
	}
	if resp.StatusCode >= 500 {
		return nil, fault.Dependency("slack", &retryableError{
			after: time.Second,
			cause: fmt.Errorf("%s: http %d", method, resp.StatusCode),
		})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Dependency("slack", fmt.Errorf("%s: http %d", method, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fault.Dependency("slack", err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fault.Dependency("slack", fmt.Errorf("%s: bad response: %w", method, err))
	}
	if !out.OK {
		return nil, fault.Dependency("slack", &APIError{Code: out.Error, Hint: hintFor(out.Error)})
	}
	return &out, nil
}
