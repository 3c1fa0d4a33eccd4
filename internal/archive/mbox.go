// Package archive exports mailbox folders to mbox files.
package archive

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/emersion/go-mbox"

	"github.com/shineum/m365-mail/internal/email"
	"github.com/shineum/m365-mail/internal/provider/graph"
)

// unknownSender fills the mbox "From " line of messages without a sender.
const unknownSender = "MAILER-DAEMON"

// Source lists the messages of a folder and fetches their MIME content.
// *graph.Reader implements it.
type Source interface {
	ResolveFolder(ctx context.Context, mailbox, path string) (graph.MailFolder, error)
	Messages(ctx context.Context, mailbox, folderID string, pageSize int) iter.Seq2[email.InboundMessage, error]
	MessageMIME(ctx context.Context, mailbox, messageID string) ([]byte, error)
}

// Export writes every message of the folder at path to w in mbox format and
// returns how many were written. Messages already written stay in w when a
// later one fails.
func Export(ctx context.Context, src Source, mailbox, path string, w io.Writer) (int, error) {
	folder, err := src.ResolveFolder(ctx, mailbox, path)
	if err != nil {
		return 0, err
	}

	mw := mbox.NewWriter(w)
	n := 0
	for msg, err := range src.Messages(ctx, mailbox, folder.ID, 0) {
		if err != nil {
			return n, err
		}

		raw, err := src.MessageMIME(ctx, mailbox, msg.ID)
		if err != nil {
			return n, err
		}

		from := msg.From.Address
		if from == "" {
			from = unknownSender
		}
		entry, err := mw.CreateMessage(from, msg.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("creating mbox entry for %s: %w", msg.ID, err)
		}
		if _, err := entry.Write(raw); err != nil {
			return n, fmt.Errorf("writing message %s: %w", msg.ID, err)
		}
		n++

		slog.Debug("exported message", "mailbox", mailbox, "id", msg.ID)
	}

	if err := mw.Close(); err != nil {
		return n, fmt.Errorf("closing mbox: %w", err)
	}
	return n, nil
}

// Count returns the number of messages in an mbox stream.
func Count(r io.Reader) (int, error) {
	mr := mbox.NewReader(r)
	n := 0
	for {
		msg, err := mr.NextMessage()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading mbox: %w", err)
		}
		if _, err := io.Copy(io.Discard, msg); err != nil {
			return n, fmt.Errorf("reading mbox message %d: %w", n+1, err)
		}
		n++
	}
}
