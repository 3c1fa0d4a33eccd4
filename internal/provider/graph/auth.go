package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultScope requests every application permission granted to the client.
const defaultScope = "https://graph.microsoft.com/.default"

// tokenExpiryBuffer is subtracted from expires_in before caching so a cached
// token always has at least this much validity left.
const tokenExpiryBuffer = 60 * time.Second

// Credentials identify an app registration for the client credentials grant.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// TokenProvider obtains OAuth2 access tokens with the client credentials
// grant and keeps them in a TokenCache keyed by tenant and client.
type TokenProvider struct {
	creds      Credentials
	tokenURL   string
	scope      string
	cache      TokenCache
	httpClient *http.Client
	group      singleflight.Group
	now        func() time.Time
}

// NewTokenProvider creates a TokenProvider that posts to the token endpoint
// of loginBaseURL (e.g. https://login.microsoftonline.com). A nil cache gets
// a private MemoryCache and a nil client gets one with the default timeout.
func NewTokenProvider(creds Credentials, loginBaseURL string, cache TokenCache, httpClient *http.Client) *TokenProvider {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &TokenProvider{
		creds:      creds,
		tokenURL:   fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(loginBaseURL, "/"), url.PathEscape(creds.TenantID)),
		scope:      defaultScope,
		cache:      cache,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns a cached access token, fetching a new one on a cache miss.
// Concurrent misses share a single fetch.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	key := p.cacheKey()

	tok, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("token cache read failed, fetching a new token", "error", err)
	} else if ok {
		return tok.Value, nil
	}

	return p.fetch(ctx, key)
}

// ForceRefresh discards the cached token and acquires a new one.
// This is used when a 401 response indicates the token is invalid.
func (p *TokenProvider) ForceRefresh(ctx context.Context) (string, error) {
	key := p.cacheKey()
	if err := p.cache.Delete(ctx, key); err != nil {
		slog.Warn("token cache delete failed", "error", err)
	}
	return p.fetch(ctx, key)
}

func (p *TokenProvider) cacheKey() string {
	return CacheKey(p.creds.TenantID, p.creds.ClientID)
}

// fetch acquires a token through the shared flight for key. The request runs
// detached from ctx so one caller giving up does not fail the others waiting
// on it; each caller still stops waiting when its own ctx is done.
func (p *TokenProvider) fetch(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &AuthError{Message: "token request cancelled", Err: err}
	}

	ch := p.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout())
		defer cancel()

		tok, err := p.requestToken(fetchCtx)
		if err != nil {
			return "", err
		}
		if err := p.cache.Set(fetchCtx, key, tok); err != nil {
			slog.Warn("token cache write failed", "error", err)
		}
		return tok.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{Message: "token request cancelled", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// fetchTimeout bounds a detached token request.
func (p *TokenProvider) fetchTimeout() time.Duration {
	if p.httpClient.Timeout > 0 {
		return p.httpClient.Timeout
	}
	return defaultTimeout
}

// requestToken performs the client credentials grant.
func (p *TokenProvider) requestToken(ctx context.Context) (AccessToken, error) {
	data := url.Values{
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"scope":         {p.scope},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return AccessToken{}, &AuthError{Message: "failed to create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return AccessToken{}, &AuthError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AccessToken{}, &AuthError{Message: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AccessToken{}, &AuthError{
			Message: fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
			Err:     classifyError(resp.StatusCode, body, resp.Header.Get("Retry-After")),
		}
	}

	value, expiresIn, err := parseTokenResponse(body)
	if err != nil {
		return AccessToken{}, err
	}

	slog.Debug("acquired Graph access token",
		"tenant_id", p.creds.TenantID,
		"expires_in", expiresIn,
	)

	return AccessToken{
		Value:     value,
		ExpiresAt: p.now().Add(time.Duration(expiresIn)*time.Second - tokenExpiryBuffer),
	}, nil
}

// parseTokenResponse extracts access_token and expires_in, rejecting values
// of the wrong JSON type. The offending raw value, or "/" when the field is
// absent, is carried in the error.
func parseTokenResponse(body []byte) (string, int64, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", 0, &AuthError{Message: "failed to parse token response", Err: err}
	}

	raw, ok := fields["access_token"]
	var token string
	if !ok || json.Unmarshal(raw, &token) != nil || token == "" {
		return "", 0, &AuthError{
			Message: "access token is missing or is not a string in the response, value: " + rawValue(raw, ok),
		}
	}

	raw, ok = fields["expires_in"]
	expiresIn, err := parseExpiresIn(raw)
	if !ok || err != nil {
		return "", 0, &AuthError{
			Message: "expires_in is missing or is not an integer in the response, value: " + rawValue(raw, ok),
		}
	}

	return token, expiresIn, nil
}

// parseExpiresIn accepts a JSON integer or a string holding one.
func parseExpiresIn(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("no value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func rawValue(raw json.RawMessage, present bool) string {
	if !present {
		return "/"
	}
	return string(raw)
}
