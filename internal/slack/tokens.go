package slack

import (
	"context"
	"errors"
	"sync"
	"time"

	"slackcourier/internal/fault"
	"slackcourier/internal/storage"
)

// TokenSource loads a workspace token from durable storage.
// *storage.SQLite satisfies this.
type TokenSource interface {
	GetToken(ctx context.Context, workspaceID string) (string, error)
}

type tokenEntry struct {
	token   string
	expires time.Time
}

// TokenCache memoizes workspace tokens with a TTL so every delivery does not
// hit the record store. Lookup failures are never cached.
type TokenCache struct {
	src TokenSource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]tokenEntry
}

func NewTokenCache(src TokenSource, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenCache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]tokenEntry),
	}
}

// SetClock replaces the time source. Tests only.
func (c *TokenCache) SetClock(now func() time.Time) { c.now = now }

// Token returns the workspace token, loading through the source on a miss or
// an expired entry. A workspace without a token is a not-found condition, not
// a dependency failure.
func (c *TokenCache) Token(ctx context.Context, workspaceID string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[workspaceID]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.token, nil
	}
	c.mu.Unlock()

	token, err := c.src.GetToken(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return "", fault.NotFound("token", workspaceID)
		}
		return "", err
	}
	if token == "" {
		return "", fault.NotFound("token", workspaceID)
	}

	c.mu.Lock()
	c.entries[workspaceID] = tokenEntry{token: token, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return token, nil
}

// Invalidate drops a cached token, e.g. after the platform reports it revoked.
func (c *TokenCache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}
