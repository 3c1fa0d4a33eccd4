package graph

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/m365-mail/internal/email"
)

const (
	// DefaultLoginURL is the Microsoft identity platform authority.
	DefaultLoginURL = "https://login.microsoftonline.com"
	// DefaultAPIURL is the Graph v1.0 endpoint.
	DefaultAPIURL = "https://graph.microsoft.com/v1.0"

	defaultTimeout = 30 * time.Second
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// FromAddress and FromName are the identity used for messages without
	// an explicit From address.
	FromAddress string
	FromName    string

	// MaxRetries bounds retries of transient failures. Zero disables them.
	MaxRetries int
	// Timeout applies to each HTTP request. Defaults to 30s.
	Timeout time.Duration

	// TokenCache holds access tokens. Defaults to a private MemoryCache.
	TokenCache TokenCache
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	// LoginURL and APIURL override the public cloud endpoints.
	LoginURL string
	APIURL   string
}

// GraphProvider sends and reads mail via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	tokens *TokenProvider
	sender *Sender
	reader *Reader
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	loginURL := cfg.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	tokens := NewTokenProvider(Credentials{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, loginURL, cfg.TokenCache, client)

	api := &apiClient{
		baseURL:    strings.TrimRight(apiURL, "/"),
		httpClient: client,
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
	}

	return &GraphProvider{
		tokens: tokens,
		sender: newSender(api, cfg.FromAddress, cfg.FromName),
		reader: newReader(api),
	}
}

// Send delivers an email message via the Microsoft Graph API.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) error {
	return g.sender.Send(ctx, msg)
}

// ReadFolder reads messages from a mailbox folder.
func (g *GraphProvider) ReadFolder(ctx context.Context, opts email.ReadOptions) ([]email.InboundMessage, error) {
	return g.reader.ReadFolder(ctx, opts)
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// Tokens returns the provider's token source.
func (g *GraphProvider) Tokens() *TokenProvider {
	return g.tokens
}

// Reader returns the provider's mailbox reader.
func (g *GraphProvider) Reader() *Reader {
	return g.reader
}
