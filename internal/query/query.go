package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"slackcourier/internal/fault"
)

// Row is one result row; column order derives from the first row's keys at
// render time.
type Row = map[string]any

// Result is a tabular query result. A nil Result or zero rows is a valid
// terminal state ("no data"), not an error. Columns preserves the engine's
// column order; when absent, callers derive it from the first row.
type Result struct {
	Columns []string
	Rows    []Row
}

func (r *Result) Empty() bool { return r == nil || len(r.Rows) == 0 }

// Runner executes a stored query scoped to a company. Implementations must
// bound the total wait.
type Runner interface {
	Execute(ctx context.Context, sqlText, scopeID string) (*Result, error)
}

// Config controls the HTTP query engine client.
type Config struct {
	BaseURL      string
	PollInterval time.Duration // default 500ms
	MaxWait      time.Duration // default 30s
}

// Client talks to a query service that accepts a submission and is polled for
// completion. No retries: a single bounded wait, erroring on timeout or on a
// terminal error status.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	Status  string   `json:"status"` // "pending" | "running" | "done" | "error"
	Error   string   `json:"error,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Rows    []Row    `json:"rows,omitempty"`
}

func (c *Client) Execute(ctx context.Context, sqlText, scopeID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"sql": sqlText, "scopeId": scopeID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/queries", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Dependency("query", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Dependency("query", err)
	}
	var sub submitResponse
	err = decodeJSON(resp, &sub)
	if err != nil {
		return nil, fault.Dependency("query", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fault.Dependency("query", fmt.Errorf("bounded wait exceeded: %w", ctx.Err()))
		case <-ticker.C:
		}

		st, err := c.poll(ctx, sub.JobID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case "done":
			if len(st.Rows) == 0 {
				return nil, nil
			}
			return &Result{Columns: st.Columns, Rows: st.Rows}, nil
		case "error":
			return nil, fault.Dependency("query", fmt.Errorf("terminal status: %s", st.Error))
		}
	}
}

func (c *Client) poll(ctx context.Context, jobID string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/queries/"+jobID, nil)
	if err != nil {
		return nil, fault.Dependency("query", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Dependency("query", err)
	}
	var st statusResponse
	if err := decodeJSON(resp, &st); err != nil {
		return nil, fault.Dependency("query", err)
	}
	return &st, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
