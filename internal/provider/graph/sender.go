package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/m365-mail/internal/email"
)

var validate = validator.New()

// Sender converts outbound messages into sendMail payloads and posts them
// on behalf of the effective sender mailbox.
type Sender struct {
	api         *apiClient
	fromAddress string
	fromName    string
}

// newSender creates a Sender. fromAddress and fromName are the default
// identity used when a message carries no From address.
func newSender(api *apiClient, fromAddress, fromName string) *Sender {
	return &Sender{api: api, fromAddress: fromAddress, fromName: fromName}
}

// Send delivers msg through the sendMail endpoint of the effective mailbox.
// Failures are returned as *SendError.
func (s *Sender) Send(ctx context.Context, msg *email.Email) error {
	mailbox, reqBody := s.buildSendMailRequest(msg)

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return &SendError{Mailbox: mailbox, Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", s.api.baseURL, url.PathEscape(mailbox))
	if _, err := s.api.call(ctx, http.MethodPost, endpoint, bodyJSON, nil); err != nil {
		sendErr := &SendError{Mailbox: mailbox, Err: err}
		// A token endpoint rejection is an auth failure, not a sendMail status.
		var authErr *AuthError
		var apiErr *APIError
		if !errors.As(err, &authErr) && errors.As(err, &apiErr) {
			sendErr.StatusCode = apiErr.StatusCode
			sendErr.Body = apiErr.Body
		}
		return sendErr
	}

	slog.Info("message sent via Graph API",
		"mailbox", mailbox,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)
	return nil
}

// buildSendMailRequest returns the mailbox to send as and the sendMail body.
// An explicit From selects the mailbox and leaves the payload's from unset;
// otherwise the configured default identity is used and set explicitly.
func (s *Sender) buildSendMailRequest(msg *email.Email) (string, *sendMailRequest) {
	body := messageBody{
		ContentType: "Text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "HTML"
		body.Content = msg.HtmlBody
	}

	m := sendMailMessage{
		Subject:       msg.Subject,
		Body:          body,
		ToRecipients:  toRecipients(msg.To),
		CcRecipients:  validRecipients("ccRecipients", msg.Cc),
		BccRecipients: validRecipients("bccRecipients", msg.Bcc),
		ReplyTo:       validRecipients("replyTo", msg.ReplyTo),
	}

	if msg.Sender != nil {
		if sender := validRecipients("sender", []email.Address{*msg.Sender}); len(sender) == 1 {
			m.Sender = &sender[0]
		}
	}

	mailbox := s.fromAddress
	if msg.From != nil && msg.From.Address != "" {
		mailbox = msg.From.Address
	} else {
		m.From = &recipient{EmailAddress: emailAddress{Address: s.fromAddress, Name: s.fromName}}
	}

	// The file name doubles as contentId, so inline HTML references use
	// cid:<file name> rather than the part's original Content-ID.
	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    fileAttachmentType,
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
			ContentID:    att.Filename,
			IsInline:     att.Inline,
		})
	}

	return mailbox, &sendMailRequest{Message: m}
}

// toRecipients maps addresses to the Graph recipient shape. The result is
// never nil so toRecipients is always present in the payload.
func toRecipients(addrs []email.Address) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a.Address, Name: a.Name}})
	}
	return out
}

// validRecipients maps addrs only when every address is well formed. A
// single invalid address drops the whole field.
func validRecipients(field string, addrs []email.Address) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	for _, a := range addrs {
		if err := validate.Var(a.Address, "required,email"); err != nil {
			slog.Warn("dropping recipient field with invalid address",
				"field", field,
				"address", a.Address,
			)
			return nil
		}
	}
	return toRecipients(addrs)
}

// fromRecipients is the inverse of toRecipients, used when projecting
// retrieved messages.
func fromRecipients(rs []recipient) []email.Address {
	if len(rs) == 0 {
		return nil
	}
	out := make([]email.Address, 0, len(rs))
	for _, r := range rs {
		out = append(out, email.Address{Address: r.EmailAddress.Address, Name: r.EmailAddress.Name})
	}
	return out
}
