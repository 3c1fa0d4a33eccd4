// Package parser provides RFC 5322 email message parsing with MIME multipart
// support, turning .eml files into outbound messages.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/m365-mail/internal/email"
)

// Parse parses a raw RFC 5322 email message into an Email struct.
// It handles plain text messages, multipart messages with text/html bodies,
// inline parts and attachments. Transfer encodings and charsets are decoded.
// Unrecognized MIME parts are logged as warnings.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	mediaType, params := partMediaType(mr.Header.Header)
	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] == "" {
		return nil, errors.New("multipart message missing boundary")
	}

	result := &email.Email{
		RawHeaders: make(map[string][]string),
	}

	// Copy all headers
	fields := mr.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		result.RawHeaders[key] = append(result.RawHeaders[key], fields.Value())
	}

	// Extract standard header fields
	result.Subject, err = mr.Header.Subject()
	if err != nil {
		result.Subject = mr.Header.Get("Subject")
	}
	result.MessageID = mr.Header.Get("Message-Id")
	result.From = firstAddress(mr.Header, "From")
	result.Sender = firstAddress(mr.Header, "Sender")
	result.To = parseAddressList(mr.Header, "To")
	result.Cc = parseAddressList(mr.Header, "Cc")
	result.Bcc = parseAddressList(mr.Header, "Bcc")
	result.ReplyTo = parseAddressList(mr.Header, "Reply-To")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		var h message.Header
		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			h = ph.Header
		case *mail.AttachmentHeader:
			h = ph.Header
		default:
			slog.Warn("unexpected MIME part header, skipping")
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", h.Get("Content-Type"),
				"error", err,
			)
			continue
		}

		addPart(result, h, content)
	}

	return result, nil
}

// addPart files a decoded leaf part as body text, inline part or attachment.
func addPart(result *email.Email, h message.Header, content []byte) {
	mediaType, _ := partMediaType(h)
	disposition, _, _ := h.ContentDisposition()
	contentID := strings.Trim(h.Get("Content-Id"), "<> ")

	ah := mail.AttachmentHeader{Header: h}
	filename, _ := ah.Filename()

	if disposition != "attachment" && filename == "" {
		switch {
		case mediaType == "text/plain" && result.TextBody == "":
			result.TextBody = string(content)
			return
		case mediaType == "text/html" && result.HtmlBody == "":
			result.HtmlBody = string(content)
			return
		}
	}

	isAttachment := disposition == "attachment" || filename != "" || contentID != ""
	if !isAttachment {
		slog.Warn("unrecognized MIME part, skipping",
			"content_type", mediaType,
			"disposition", disposition,
		)
		return
	}

	if filename == "" {
		filename = fallbackFilename(mediaType)
	}

	result.Attachments = append(result.Attachments, email.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Content:     content,
		ContentID:   contentID,
		Inline:      disposition == "inline" || (disposition == "" && contentID != ""),
	})
}

// partMediaType returns the lower-cased media type of a part, defaulting to
// text/plain when the header is absent or unparseable.
func partMediaType(h message.Header) (string, map[string]string) {
	raw := h.Get("Content-Type")
	if raw == "" {
		return "text/plain", nil
	}
	mediaType, params, err := h.ContentType()
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", raw,
			"error", err,
		)
		return "text/plain", nil
	}
	return strings.ToLower(mediaType), params
}

// fallbackFilename names an attachment after its media subtype, since Graph
// requires a name on every attachment.
func fallbackFilename(mediaType string) string {
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}

func firstAddress(h mail.Header, key string) *email.Address {
	addrs := parseAddressList(h, key)
	if len(addrs) == 0 {
		return nil
	}
	return &addrs[0]
}

// parseAddressList parses an address header into individual addresses.
func parseAddressList(h mail.Header, key string) []email.Address {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addresses, err := h.AddressList(key)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		slog.Warn("failed to parse address list, splitting on commas",
			"header", key,
			"error", err,
		)
		parts := strings.Split(raw, ",")
		result := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	if len(addresses) == 0 {
		return nil
	}
	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Address: addr.Address, Name: addr.Name})
	}
	return result
}
