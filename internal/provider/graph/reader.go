package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/shineum/m365-mail/internal/email"
)

// Reader resolves mailbox folders and retrieves messages and attachments.
type Reader struct {
	api *apiClient
}

func newReader(api *apiClient) *Reader {
	return &Reader{api: api}
}

// ReadFolder lists the messages of the folder at opts.FolderPath. Without a
// mailbox it returns no messages and makes no requests.
//
// Only the first page is read unless opts.AllPages is set. On failure the
// messages completed before the failing step are returned together with a
// *ReadError.
func (r *Reader) ReadFolder(ctx context.Context, opts email.ReadOptions) ([]email.InboundMessage, error) {
	if opts.Mailbox == "" {
		return nil, nil
	}

	folder, err := r.ResolveFolder(ctx, opts.Mailbox, opts.Path())
	if err != nil {
		return nil, err
	}

	var out []email.InboundMessage
	saved := savedNames{}
	for page, err := range r.messagePages(ctx, opts.Mailbox, folder.ID, opts.PageSize) {
		if err != nil {
			return out, &ReadError{Mailbox: opts.Mailbox, Op: "list messages", Err: err}
		}

		for _, gm := range page {
			msg := projectMessage(gm)
			if gm.HasAttachments {
				atts, err := r.fileAttachments(ctx, opts, gm.ID, saved)
				if err != nil {
					return out, err
				}
				msg.Attachments = atts
			}
			out = append(out, msg)
		}

		if !opts.AllPages {
			break
		}
	}

	slog.Debug("read mailbox folder",
		"mailbox", opts.Mailbox,
		"folder", opts.Path(),
		"messages", len(out),
	)
	return out, nil
}

// ResolveFolder walks path one segment at a time from the mailbox root,
// matching display names exactly. A missing segment yields a *ReadError
// wrapping a *FolderNotFoundError.
func (r *Reader) ResolveFolder(ctx context.Context, mailbox, path string) (MailFolder, error) {
	segments := splitFolderPath(path)
	if len(segments) == 0 {
		return MailFolder{}, &ReadError{Mailbox: mailbox, Op: "resolve folder", Err: &FolderNotFoundError{Path: path}}
	}

	var current MailFolder
	for _, name := range segments {
		children, err := r.ListFolders(ctx, mailbox, current.ID)
		if err != nil {
			return MailFolder{}, err
		}

		found := false
		for _, f := range children {
			if f.DisplayName == name {
				current = f
				found = true
				break
			}
		}
		if !found {
			return MailFolder{}, &ReadError{
				Mailbox: mailbox,
				Op:      "resolve folder",
				Err:     &FolderNotFoundError{Segment: name, Path: path},
			}
		}
	}

	return current, nil
}

// ListFolders lists the top-level folders of mailbox when parentID is empty,
// or the child folders of parentID otherwise.
func (r *Reader) ListFolders(ctx context.Context, mailbox, parentID string) ([]MailFolder, error) {
	next := r.userURL(mailbox) + "/mailFolders"
	if parentID != "" {
		next += "/" + url.PathEscape(parentID) + "/childFolders"
	}

	var folders []MailFolder
	for next != "" {
		var page folderPage
		if _, err := r.api.call(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, &ReadError{Mailbox: mailbox, Op: "list folders", Err: err}
		}
		folders = append(folders, page.Value...)
		next = page.NextLink
	}
	return folders, nil
}

// Messages returns a lazy sequence over every message of a folder, following
// continuation links as the sequence is consumed. Each range over the
// sequence starts again from the first page.
func (r *Reader) Messages(ctx context.Context, mailbox, folderID string, pageSize int) iter.Seq2[email.InboundMessage, error] {
	return func(yield func(email.InboundMessage, error) bool) {
		for page, err := range r.messagePages(ctx, mailbox, folderID, pageSize) {
			if err != nil {
				yield(email.InboundMessage{}, &ReadError{Mailbox: mailbox, Op: "list messages", Err: err})
				return
			}
			for _, gm := range page {
				if !yield(projectMessage(gm), nil) {
					return
				}
			}
		}
	}
}

// messagePages yields one page of raw messages per request.
func (r *Reader) messagePages(ctx context.Context, mailbox, folderID string, pageSize int) iter.Seq2[[]graphMessage, error] {
	return func(yield func([]graphMessage, error) bool) {
		next := fmt.Sprintf("%s/mailFolders/%s/messages?$select=%s",
			r.userURL(mailbox), url.PathEscape(folderID), messageSelect)
		if pageSize > 0 {
			next += fmt.Sprintf("&$top=%d", pageSize)
		}

		for next != "" {
			var page messagePage
			if _, err := r.api.call(ctx, http.MethodGet, next, nil, &page); err != nil {
				yield(nil, err)
				return
			}
			if !yield(page.Value, nil) {
				return
			}
			next = page.NextLink
		}
	}
}

// attachments lists every attachment entry of a message, of any kind.
func (r *Reader) attachments(ctx context.Context, mailbox, messageID string) ([]attachmentEntry, error) {
	next := fmt.Sprintf("%s/messages/%s/attachments", r.userURL(mailbox), url.PathEscape(messageID))

	var entries []attachmentEntry
	for next != "" {
		var page attachmentPage
		if _, err := r.api.call(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, &ReadError{Mailbox: mailbox, Op: "list attachments", Err: err}
		}
		entries = append(entries, page.Value...)
		next = page.NextLink
	}
	return entries, nil
}

// MessageMIME returns the RFC 822 content of a message.
func (r *Reader) MessageMIME(ctx context.Context, mailbox, messageID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/messages/%s/$value", r.userURL(mailbox), url.PathEscape(messageID))
	body, err := r.api.call(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, &ReadError{Mailbox: mailbox, Op: "get message content", Err: err}
	}
	return body, nil
}

// fileAttachments keeps the file attachments of a message, decoding and
// persisting their content as opts require. Persisted files are named after
// the attachment, made unique within the read through saved.
func (r *Reader) fileAttachments(ctx context.Context, opts email.ReadOptions, messageID string, saved savedNames) ([]email.InboundAttachment, error) {
	entries, err := r.attachments(ctx, opts.Mailbox, messageID)
	if err != nil {
		return nil, err
	}

	var out []email.InboundAttachment
	for _, e := range entries {
		if e.ODataType != fileAttachmentType {
			continue
		}

		att := email.InboundAttachment{
			Name:        e.Name,
			ContentType: e.ContentType,
			Size:        e.Size,
		}

		if opts.IncludeFileBytes || opts.PersistToDisk {
			content, err := base64.StdEncoding.DecodeString(e.ContentBytes)
			if err != nil {
				return nil, &ReadError{
					Mailbox: opts.Mailbox,
					Op:      "decode attachment",
					Err:     fmt.Errorf("attachment %q of message %s: %w", e.Name, messageID, err),
				}
			}
			if opts.IncludeFileBytes {
				att.Content = content
			}
			if opts.PersistToDisk {
				name := saved.claim(e.Name)
				if name != e.Name {
					slog.Warn("saving attachment under another name",
						"mailbox", opts.Mailbox,
						"message_id", messageID,
						"attachment", e.Name,
						"file", name,
					)
				}
				path := filepath.Join(opts.DestinationDirectory, name)
				if err := os.WriteFile(path, content, 0o644); err != nil {
					return nil, &ReadError{Mailbox: opts.Mailbox, Op: "save attachment", Err: err}
				}
				att.Path = path
			}
		}

		out = append(out, att)
	}
	return out, nil
}

// savedNames records the file names written during one read.
type savedNames map[string]bool

// claim returns a file name for an attachment called name that no earlier
// attachment of the read has used. Repeats get a " (n)" suffix before the
// extension. A name without a usable base becomes "attachment".
func (s savedNames) claim(name string) string {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		base = "attachment"
	}

	candidate := base
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; s[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	s[candidate] = true
	return candidate
}

func (r *Reader) userURL(mailbox string) string {
	return r.api.baseURL + "/users/" + url.PathEscape(mailbox)
}

// splitFolderPath splits on both separators and drops empty segments.
func splitFolderPath(path string) []string {
	return strings.FieldsFunc(path, func(c rune) bool {
		return c == '/' || c == '\\'
	})
}

func projectMessage(gm graphMessage) email.InboundMessage {
	msg := email.InboundMessage{
		ID:             gm.ID,
		Subject:        gm.Subject,
		BodyPreview:    gm.BodyPreview,
		ReceivedAt:     gm.ReceivedDateTime,
		HasAttachments: gm.HasAttachments,
		To:             fromRecipients(gm.ToRecipients),
		Cc:             fromRecipients(gm.CcRecipients),
		Bcc:            fromRecipients(gm.BccRecipients),
	}
	if gm.From != nil {
		msg.From = email.Address{Address: gm.From.EmailAddress.Address, Name: gm.From.EmailAddress.Name}
	}
	return msg
}
