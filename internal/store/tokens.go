package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shineum/m365-mail/internal/provider/graph"
)

var _ graph.TokenCache = (*SQLiteStore)(nil)

type tokenRow struct {
	Value     string `db:"value"`
	ExpiresAt int64  `db:"expires_at"`
}

// Get returns the unexpired token stored under key. Expired rows are
// removed as they are found.
func (s *SQLiteStore) Get(ctx context.Context, key string) (graph.AccessToken, bool, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, "SELECT value, expires_at FROM tokens WHERE cache_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.AccessToken{}, false, nil
	}
	if err != nil {
		return graph.AccessToken{}, false, fmt.Errorf("reading token %s: %w", key, err)
	}

	tok := graph.AccessToken{Value: row.Value, ExpiresAt: time.UnixMilli(row.ExpiresAt)}
	if !tok.Valid(s.now()) {
		if err := s.Delete(ctx, key); err != nil {
			return graph.AccessToken{}, false, err
		}
		return graph.AccessToken{}, false, nil
	}
	return tok, true, nil
}

// Set stores token under key, replacing any previous entry.
func (s *SQLiteStore) Set(ctx context.Context, key string, token graph.AccessToken) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tokens (cache_key, value, expires_at) VALUES (?, ?, ?)",
		key, token.Value, token.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storing token %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("deleting token %s: %w", key, err)
	}
	return nil
}
