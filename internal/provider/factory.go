package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/shineum/m365-mail/internal/config"
	"github.com/shineum/m365-mail/internal/provider/graph"
	"github.com/shineum/m365-mail/internal/provider/ses"
	"github.com/shineum/m365-mail/internal/provider/stdout"
)

// ErrUnknownProvider is returned for an unrecognized PROVIDER value.
var ErrUnknownProvider = errors.New("unknown provider")

// Options carries runtime dependencies that do not come from configuration.
type Options struct {
	// TokenCache backs Graph access tokens. Nil selects an in-memory cache.
	TokenCache graph.TokenCache
	// Stdout receives dry-run output. Nil selects os.Stdout.
	Stdout io.Writer
}

// New chooses the email delivery backend based on configuration.
// An explicit cfg.Provider takes precedence. Otherwise Graph is used if
// configured, then SES, then stdout.
func New(ctx context.Context, cfg *config.Config, opts Options) (Provider, error) {
	switch cfg.Provider {
	case "graph", "msgraph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_FROM_ADDRESS are required")
		}
		slog.Info("using Microsoft Graph provider", "from", cfg.Graph.FromAddress)
		return NewGraph(cfg, opts), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
		return newSES(ctx, cfg)

	case "stdout":
		slog.Info("using stdout provider")
		return newStdout(opts), nil

	case "":
		if cfg.GraphConfigured() {
			slog.Info("using Microsoft Graph provider (auto-detected)", "from", cfg.Graph.FromAddress)
			return NewGraph(cfg, opts), nil
		}
		if cfg.SESConfigured() {
			slog.Info("using AWS SES provider (auto-detected)", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
			return newSES(ctx, cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return newStdout(opts), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// NewReader returns a mailbox reader. Only Microsoft Graph can read mail,
// so the Graph credentials must be configured whatever the send provider.
func NewReader(cfg *config.Config, opts Options) (Reader, error) {
	if !cfg.GraphCredentialsSet() {
		return nil, errors.New("reading mail requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET")
	}
	return NewGraph(cfg, opts), nil
}

// NewGraph builds a Graph provider from configuration without checking it.
func NewGraph(cfg *config.Config, opts Options) *graph.GraphProvider {
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		FromAddress:  cfg.Graph.FromAddress,
		FromName:     cfg.Graph.FromName,
		MaxRetries:   cfg.Graph.MaxRetries,
		Timeout:      cfg.Graph.Timeout,
		TokenCache:   opts.TokenCache,
		LoginURL:     cfg.Graph.LoginURL,
		APIURL:       cfg.Graph.APIURL,
	})
}

func newSES(ctx context.Context, cfg *config.Config) (Provider, error) {
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
		MaxRetries:      cfg.SES.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newStdout(opts Options) Provider {
	if opts.Stdout != nil {
		return stdout.NewWithWriter(opts.Stdout)
	}
	return stdout.New()
}
