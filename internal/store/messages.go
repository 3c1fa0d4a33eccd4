package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shineum/m365-mail/internal/email"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// IndexedMessage is a message summary recorded by SaveMessages.
type IndexedMessage struct {
	Mailbox        string              `json:"mailbox" yaml:"mailbox"`
	ID             string              `json:"id" yaml:"id"`
	Folder         string              `json:"folder" yaml:"folder"`
	Subject        string              `json:"subject" yaml:"subject"`
	FromAddress    string              `json:"fromAddress" yaml:"fromAddress"`
	FromName       string              `json:"fromName,omitempty" yaml:"fromName,omitempty"`
	BodyPreview    string              `json:"bodyPreview" yaml:"bodyPreview"`
	ReceivedAt     time.Time           `json:"receivedAt" yaml:"receivedAt"`
	HasAttachments bool                `json:"hasAttachments" yaml:"hasAttachments"`
	Attachments    []IndexedAttachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// IndexedAttachment is an attachment recorded with its message.
type IndexedAttachment struct {
	Name        string `db:"name" json:"name" yaml:"name"`
	ContentType string `db:"content_type" json:"contentType" yaml:"contentType"`
	Size        int64  `db:"size" json:"size" yaml:"size"`
	Path        string `db:"path" json:"path,omitempty" yaml:"path,omitempty"`
}

type messageRow struct {
	Mailbox        string `db:"mailbox"`
	ID             string `db:"id"`
	Folder         string `db:"folder"`
	Subject        string `db:"subject"`
	FromAddress    string `db:"from_address"`
	FromName       string `db:"from_name"`
	BodyPreview    string `db:"body_preview"`
	ReceivedAt     string `db:"received_at"`
	HasAttachments bool   `db:"has_attachments"`
}

// SaveMessages records the messages read from folder, replacing earlier
// entries with the same mailbox and message ID.
func (s *SQLiteStore) SaveMessages(ctx context.Context, mailbox, folder string, msgs []email.InboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT OR REPLACE INTO messages (
			mailbox, id, folder, subject,
			from_address, from_name, body_preview,
			received_at, has_attachments, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	indexedAt := s.now().UTC().Format(timeLayout)
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, upsert,
			mailbox, m.ID, folder, m.Subject,
			m.From.Address, m.From.Name, m.BodyPreview,
			m.ReceivedAt.UTC().Format(timeLayout), m.HasAttachments, indexedAt,
		)
		if err != nil {
			return fmt.Errorf("indexing message %s: %w", m.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM attachments WHERE mailbox = ? AND message_id = ?", mailbox, m.ID,
		); err != nil {
			return fmt.Errorf("clearing attachments of %s: %w", m.ID, err)
		}
		for _, a := range m.Attachments {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO attachments (mailbox, message_id, name, content_type, size, path) VALUES (?, ?, ?, ?, ?, ?)",
				mailbox, m.ID, a.Name, a.ContentType, a.Size, a.Path,
			)
			if err != nil {
				return fmt.Errorf("indexing attachment %q of %s: %w", a.Name, m.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Messages returns the indexed messages of a folder, newest first.
func (s *SQLiteStore) Messages(ctx context.Context, mailbox, folder string) ([]IndexedMessage, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT mailbox, id, folder, subject, from_address, from_name,
		       body_preview, received_at, has_attachments
		FROM messages
		WHERE mailbox = ? AND folder = ?
		ORDER BY received_at DESC, id`,
		mailbox, folder,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	out := make([]IndexedMessage, 0, len(rows))
	for _, r := range rows {
		received, err := time.Parse(timeLayout, r.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at of %s: %w", r.ID, err)
		}

		m := IndexedMessage{
			Mailbox:        r.Mailbox,
			ID:             r.ID,
			Folder:         r.Folder,
			Subject:        r.Subject,
			FromAddress:    r.FromAddress,
			FromName:       r.FromName,
			BodyPreview:    r.BodyPreview,
			ReceivedAt:     received,
			HasAttachments: r.HasAttachments,
		}

		if r.HasAttachments {
			if err := s.db.SelectContext(ctx, &m.Attachments,
				"SELECT name, content_type, size, path FROM attachments WHERE mailbox = ? AND message_id = ? ORDER BY rowid",
				r.Mailbox, r.ID,
			); err != nil {
				return nil, fmt.Errorf("querying attachments of %s: %w", r.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
