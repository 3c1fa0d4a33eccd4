// Package provider defines the interfaces for email delivery and mailbox
// reading backends, and selects a backend from configuration.
package provider

import (
	"context"

	"github.com/shineum/m365-mail/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider handles the actual sending of parsed email messages
// to the target service (Microsoft Graph, AWS SES, stdout).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Reader is implemented by backends that can list mailbox folders.
type Reader interface {
	// ReadFolder returns the messages of the folder named by opts.
	ReadFolder(ctx context.Context, opts email.ReadOptions) ([]email.InboundMessage, error)
}
