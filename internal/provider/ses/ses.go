// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/m365-mail/internal/email"
)

// defaultRetryDelay is the initial delay for exponential backoff.
const defaultRetryDelay = 1 * time.Second

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	// MaxRetries bounds retries of failed SendEmail calls. Zero disables them.
	MaxRetries int
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender     string
	client     SendEmailAPI
	maxRetries int
	retryDelay time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(cfg SESProviderConfig, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:     cfg.Sender,
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Send delivers an email message via AWS SES v2.
// For emails with attachments, it builds a raw MIME message.
// For simple emails, it uses the SES simple email format.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(s.sender, msg)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(s.sender, msg)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", s.maxRetries,
			)
			if err := sleepWithContext(ctx, s.backoffDelay(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	if s.maxRetries == 0 {
		return fmt.Errorf("SES API request failed: %w", lastErr)
	}
	return fmt.Errorf("SES API request failed after %d retries: %w", s.maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(sender string, msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	dest := &types.Destination{
		ToAddresses:  addressStrings(msg.To),
		CcAddresses:  addressStrings(msg.Cc),
		BccAddresses: addressStrings(msg.Bcc),
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      dest,
		ReplyToAddresses: addressStrings(msg.ReplyTo),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// buildRawMessage constructs a raw MIME message for emails with attachments.
func buildRawMessage(sender string, msg *email.Email) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: sender}})
	if len(msg.To) > 0 {
		h.SetAddressList("To", mailAddresses(msg.To))
	}
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", mailAddresses(msg.Cc))
	}
	if len(msg.ReplyTo) > 0 {
		h.SetAddressList("Reply-To", mailAddresses(msg.ReplyTo))
	}
	h.SetSubject(msg.Subject)
	if msg.MessageID != "" {
		h.Set("Message-Id", msg.MessageID)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if msg.TextBody != "" || msg.HtmlBody != "" {
		if err := writeBody(mw, msg); err != nil {
			return nil, err
		}
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", att.ContentType)
		disposition := "attachment"
		if att.Inline {
			disposition = "inline"
		}
		ah.SetContentDisposition(disposition, map[string]string{"filename": att.Filename})
		if att.ContentID != "" {
			ah.Set("Content-Id", "<"+att.ContentID+">")
		}

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBody writes the text and HTML bodies as a multipart/alternative part.
func writeBody(mw *mail.Writer, msg *email.Email) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}

	bodies := []struct {
		mediaType string
		content   string
	}{
		{"text/plain", msg.TextBody},
		{"text/html", msg.HtmlBody},
	}
	for _, b := range bodies {
		if b.content == "" {
			continue
		}
		var ih mail.InlineHeader
		ih.SetContentType(b.mediaType, map[string]string{"charset": "UTF-8"})
		w, err := tw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("failed to create %s part: %w", b.mediaType, err)
		}
		if _, err := io.WriteString(w, b.content); err != nil {
			return fmt.Errorf("failed to write %s part: %w", b.mediaType, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close %s part: %w", b.mediaType, err)
		}
	}

	return tw.Close()
}

func addressStrings(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func mailAddresses(addrs []email.Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func (s *SESProvider) backoffDelay(attempt int) time.Duration {
	delay := s.retryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
