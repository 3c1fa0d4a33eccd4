package graph

import (
	"context"
	"sync"
	"time"
)

// AccessToken is a bearer token with its expiry as recorded by the cache.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be handed out at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// TokenCache stores access tokens per credential key. Implementations must
// be safe for concurrent use and must not return expired tokens.
type TokenCache interface {
	Get(ctx context.Context, key string) (AccessToken, bool, error)
	Set(ctx context.Context, key string, token AccessToken) error
	Delete(ctx context.Context, key string) error
}

// CacheKey returns the cache key for a tenant and client pair.
func CacheKey(tenantID, clientID string) string {
	return "msgraph-token:" + tenantID + ":" + clientID
}

// MemoryCache is an in-process TokenCache.
type MemoryCache struct {
	mu     sync.Mutex
	tokens map[string]AccessToken
	now    func() time.Time
}

// NewMemoryCache creates an empty in-process token cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		tokens: make(map[string]AccessToken),
		now:    time.Now,
	}
}

// Get returns the token stored under key if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (AccessToken, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.tokens[key]
	if !ok {
		return AccessToken{}, false, nil
	}
	if !tok.Valid(c.now()) {
		delete(c.tokens, key)
		return AccessToken{}, false, nil
	}
	return tok, true, nil
}

// Set stores token under key, replacing any previous entry.
func (c *MemoryCache) Set(_ context.Context, key string, token AccessToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[key] = token
	return nil
}

// Delete removes the entry for key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, key)
	return nil
}
