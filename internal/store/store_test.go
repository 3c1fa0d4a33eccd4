package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/m365-mail/internal/email"
	"github.com/shineum/m365-mail/internal/provider/graph"
)

// newTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err, "creating test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrations_ReopenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	var rows int
	require.NoError(t, s.db.Get(&rows, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, len(migrations), rows)
}

func TestTokenCache_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	key := graph.CacheKey("tenant", "client")
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "empty store should miss")

	require.NoError(t, s.Set(ctx, key, graph.AccessToken{Value: "tok-1", ExpiresAt: expires}))

	tok, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok.Value)
	assert.True(t, tok.ExpiresAt.Equal(expires), "expiry: got %v, want %v", tok.ExpiresAt, expires)

	require.NoError(t, s.Set(ctx, key, graph.AccessToken{Value: "tok-2", ExpiresAt: expires}))
	tok, _, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Value, "Set should replace the entry")

	require.NoError(t, s.Delete(ctx, key))
	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenCache_ExpiredEntriesAreDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	require.NoError(t, s.Set(ctx, "k", graph.AccessToken{Value: "tok", ExpiresAt: base.Add(time.Minute)}))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	s.now = func() time.Time { return base.Add(time.Minute) }
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "a token is invalid at its expiry instant")

	var rows int
	require.NoError(t, s.db.Get(&rows, "SELECT COUNT(*) FROM tokens"))
	assert.Zero(t, rows)
}

func TestTokenCache_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	key := graph.CacheKey("tenant", "client")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, key, graph.AccessToken{Value: "persisted", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	tok, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", tok.Value)
}

func TestTokenCache_BacksTokenProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Set(ctx, graph.CacheKey("tenant", "client"), graph.AccessToken{
		Value:     "from-sqlite",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	// The login URL is unreachable, so success proves the cache was used.
	tp := graph.NewTokenProvider(graph.Credentials{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
	}, "http://127.0.0.1:1", s, nil)

	tok, err := tp.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-sqlite", tok)
}

func inbound(id string, received time.Time, atts ...email.InboundAttachment) email.InboundMessage {
	return email.InboundMessage{
		ID:             id,
		Subject:        "Subject " + id,
		From:           email.Address{Address: "alice@example.com", Name: "Alice"},
		BodyPreview:    "Preview " + id,
		ReceivedAt:     received,
		HasAttachments: len(atts) > 0,
		Attachments:    atts,
	}
}

func TestSaveMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	msgs := []email.InboundMessage{
		inbound("m1", day),
		inbound("m2", day.Add(90*time.Minute+500*time.Millisecond),
			email.InboundAttachment{Name: "report.pdf", ContentType: "application/pdf", Size: 1024, Path: "/tmp/report.pdf"},
			email.InboundAttachment{Name: "notes.txt", ContentType: "text/plain", Size: 12},
		),
		inbound("m3", day.Add(90*time.Minute)),
	}
	require.NoError(t, s.SaveMessages(ctx, "user@example.com", "Inbox", msgs))

	got, err := s.Messages(ctx, "user@example.com", "Inbox")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"m2", "m3", "m1"}, []string{got[0].ID, got[1].ID, got[2].ID}, "newest first")

	m2 := got[0]
	assert.Equal(t, "Alice", m2.FromName)
	assert.Equal(t, "alice@example.com", m2.FromAddress)
	assert.True(t, m2.ReceivedAt.Equal(msgs[1].ReceivedAt))
	assert.True(t, m2.HasAttachments)
	require.Len(t, m2.Attachments, 2)
	assert.Equal(t, IndexedAttachment{Name: "report.pdf", ContentType: "application/pdf", Size: 1024, Path: "/tmp/report.pdf"}, m2.Attachments[0])
	assert.Equal(t, "notes.txt", m2.Attachments[1].Name)

	assert.Empty(t, got[1].Attachments)
}

func TestSaveMessages_ReplacesExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := inbound("m1", day, email.InboundAttachment{Name: "a.txt"}, email.InboundAttachment{Name: "b.txt"})
	require.NoError(t, s.SaveMessages(ctx, "user@example.com", "Inbox", []email.InboundMessage{first}))

	second := inbound("m1", day, email.InboundAttachment{Name: "c.txt"})
	second.Subject = "Updated"
	require.NoError(t, s.SaveMessages(ctx, "user@example.com", "Inbox", []email.InboundMessage{second}))

	got, err := s.Messages(ctx, "user@example.com", "Inbox")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Updated", got[0].Subject)
	require.Len(t, got[0].Attachments, 1)
	assert.Equal(t, "c.txt", got[0].Attachments[0].Name)
}

func TestMessages_ScopedByMailboxAndFolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.SaveMessages(ctx, "a@example.com", "Inbox", []email.InboundMessage{inbound("m1", now)}))
	require.NoError(t, s.SaveMessages(ctx, "a@example.com", `Projects\2026`, []email.InboundMessage{inbound("m2", now)}))
	require.NoError(t, s.SaveMessages(ctx, "b@example.com", "Inbox", []email.InboundMessage{inbound("m3", now)}))

	got, err := s.Messages(ctx, "a@example.com", "Inbox")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	got, err = s.Messages(ctx, "a@example.com", "Archive")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveMessages_Empty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.NoError(t, s.SaveMessages(context.Background(), "user@example.com", "Inbox", nil))
}
