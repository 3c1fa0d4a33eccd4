// Package stdout implements a Provider that prints emails instead of sending
// them, used for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/m365-mail/internal/email"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the email message. It fails only if the writer does.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString(separator)
	if msg.From != nil {
		writeField(&b, "From", msg.From.String())
	}
	if msg.Sender != nil {
		writeField(&b, "Sender", msg.Sender.String())
	}
	writeField(&b, "To", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		writeField(&b, "Cc", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		writeField(&b, "Bcc", joinAddresses(msg.Bcc))
	}
	if len(msg.ReplyTo) > 0 {
		writeField(&b, "Reply-To", joinAddresses(msg.ReplyTo))
	}
	writeField(&b, "Subject", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			desc := fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content)))
			if att.Inline {
				desc = fmt.Sprintf("%s (%s, inline cid:%s)", att.Filename, formatSize(len(att.Content)), att.ContentID)
			}
			attachments = append(attachments, desc)
		}
		writeField(&b, "Attachments", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func writeField(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

func joinAddresses(addrs []email.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
