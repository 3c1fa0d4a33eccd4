package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shineum/m365-mail/internal/email"
)

// fakeMailbox serves a small folder tree for user@example.com and records
// the request paths it sees.
type fakeMailbox struct {
	mu    sync.Mutex
	paths []string

	// failAttachmentsFor makes the attachments listing of that message fail.
	failAttachmentsFor string
}

func (f *fakeMailbox) record(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *fakeMailbox) count(pred func(string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if pred(p) {
			n++
		}
	}
	return n
}

func isFolderListing(p string) bool {
	return strings.HasSuffix(p, "/mailFolders") || strings.HasSuffix(p, "/childFolders")
}

func (f *fakeMailbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	base := "http://" + r.Host + "/users/user@example.com"

	switch r.URL.Path {
	case "/users/user@example.com/mailFolders":
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{"value": []MailFolder{{ID: "a-id", DisplayName: "A"}}})
			return
		}
		writeJSON(w, map[string]any{
			"value":           []MailFolder{{ID: "inbox-id", DisplayName: "Inbox"}},
			"@odata.nextLink": base + "/mailFolders?page=2",
		})
	case "/users/user@example.com/mailFolders/a-id/childFolders":
		writeJSON(w, map[string]any{"value": []MailFolder{{ID: "b-id", DisplayName: "B"}}})
	case "/users/user@example.com/mailFolders/b-id/childFolders":
		writeJSON(w, map[string]any{"value": []MailFolder{}})
	case "/users/user@example.com/mailFolders/inbox-id/messages":
		if got := r.URL.Query().Get("$select"); got != messageSelect {
			http.Error(w, "unexpected $select "+got, http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{"value": []map[string]any{message("m3", false)}})
			return
		}
		writeJSON(w, map[string]any{
			"value":           []map[string]any{message("m1", true), message("m2", false)},
			"@odata.nextLink": base + "/mailFolders/inbox-id/messages?$select=" + messageSelect + "&page=2",
		})
	case "/users/user@example.com/mailFolders/b-id/messages":
		writeJSON(w, map[string]any{"value": []map[string]any{message("b1", true), message("b2", true)}})
	case "/users/user@example.com/messages/m1/attachments",
		"/users/user@example.com/messages/b1/attachments",
		"/users/user@example.com/messages/b2/attachments":
		if strings.Contains(r.URL.Path, "/"+f.failAttachmentsFor+"/") && f.failAttachmentsFor != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"value": []map[string]any{
			{
				"@odata.type":  "#microsoft.graph.fileAttachment",
				"name":         "report.txt",
				"contentType":  "text/plain",
				"size":         5,
				"contentBytes": "aGVsbG8=",
			},
			{
				"@odata.type": "#microsoft.graph.itemAttachment",
				"name":        "Forwarded message",
			},
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"code":"ErrorItemNotFound","message":"no route for %s"}}`, r.URL.Path)
	}
}

func message(id string, hasAttachments bool) map[string]any {
	return map[string]any{
		"id":               id,
		"subject":          "Subject " + id,
		"bodyPreview":      "Preview " + id,
		"receivedDateTime": "2026-03-01T10:00:00Z",
		"hasAttachments":   hasAttachments,
		"from":             map[string]any{"emailAddress": map[string]any{"address": "alice@example.com", "name": "Alice"}},
		"toRecipients": []map[string]any{
			{"emailAddress": map[string]any{"address": "user@example.com", "name": "User"}},
		},
		"ccRecipients": []map[string]any{},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}

func TestReadFolder_NoMailboxMakesNoCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, tokenCalls := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{FolderPath: "Inbox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages: got %d, want 0", len(msgs))
	}
	if n := fake.count(func(string) bool { return true }); n != 0 {
		t.Errorf("graph calls: got %d, want 0", n)
	}
	if tokenCalls.Load() != 0 {
		t.Errorf("token calls: got %d, want 0", tokenCalls.Load())
	}
}

func TestReadFolder_DefaultsToInboxFirstPage(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{Mailbox: "user@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2 (first page only)", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order: got %s, %s", msgs[0].ID, msgs[1].ID)
	}

	m := msgs[0]
	if m.Subject != "Subject m1" || m.BodyPreview != "Preview m1" {
		t.Errorf("projection: got %+v", m)
	}
	if m.From != (email.Address{Address: "alice@example.com", Name: "Alice"}) {
		t.Errorf("From: got %+v", m.From)
	}
	if len(m.To) != 1 || m.To[0].Name != "User" {
		t.Errorf("To: got %+v", m.To)
	}
	if m.Cc != nil {
		t.Errorf("Cc: got %+v, want nil", m.Cc)
	}
	if m.ReceivedAt.Year() != 2026 {
		t.Errorf("ReceivedAt: got %v", m.ReceivedAt)
	}
	if len(msgs[1].Attachments) != 0 {
		t.Errorf("message without attachments got %d", len(msgs[1].Attachments))
	}
}

func TestReadFolder_AllPages(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{Mailbox: "user@example.com", AllPages: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "m1,m2,m3" {
		t.Errorf("ids: got %v, want m1,m2,m3", ids)
	}
}

func TestReadFolder_NestedPath(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:    "user@example.com",
		FolderPath: `A\B`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages: got %d, want 2", len(msgs))
	}

	// The root listing spans two pages, then one childFolders call.
	if n := fake.count(func(p string) bool { return strings.HasSuffix(p, "/mailFolders") }); n != 2 {
		t.Errorf("root listing calls: got %d, want 2", n)
	}
	if n := fake.count(func(p string) bool { return strings.HasSuffix(p, "/childFolders") }); n != 1 {
		t.Errorf("child listing calls: got %d, want 1", n)
	}
}

func TestReadFolder_SlashSeparator(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	folder, err := p.Reader().ResolveFolder(context.Background(), "user@example.com", "/A/B/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if folder.ID != "b-id" {
		t.Errorf("folder ID: got %q, want b-id", folder.ID)
	}
}

func TestReadFolder_MissingSegment(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:    "user@example.com",
		FolderPath: `A\C`,
	})
	if msgs != nil {
		t.Errorf("messages: got %d, want nil", len(msgs))
	}

	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %T (%v)", err, err)
	}
	if !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("expected ErrFolderNotFound, got %v", err)
	}

	var notFound *FolderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *FolderNotFoundError, got %v", err)
	}
	if notFound.Segment != "C" || notFound.Path != `A\C` {
		t.Errorf("FolderNotFoundError: got segment %q path %q", notFound.Segment, notFound.Path)
	}

	if n := fake.count(isFolderListing); n != 3 {
		t.Errorf("folder listing calls: got %d, want 3", n)
	}
	if n := fake.count(func(p string) bool { return strings.HasSuffix(p, "/messages") }); n != 0 {
		t.Errorf("message listing calls: got %d, want 0", n)
	}
}

func TestResolveFolder_OneListingPerSegment(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/users/user@example.com/mailFolders":
			writeJSON(w, map[string]any{"value": []MailFolder{{ID: "a-id", DisplayName: "A"}}})
		case "/users/user@example.com/mailFolders/a-id/childFolders":
			writeJSON(w, map[string]any{"value": []MailFolder{{ID: "b-id", DisplayName: "B"}}})
		default:
			http.NotFound(w, r)
		}
	})
	p, _ := newTestProvider(t, handler, 0)

	folder, err := p.Reader().ResolveFolder(context.Background(), "user@example.com", `A\B`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if folder.ID != "b-id" {
		t.Errorf("folder ID: got %q, want b-id", folder.ID)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("folder listing calls: got %d, want 2", n)
	}

	calls.Store(0)
	_, err = p.Reader().ResolveFolder(context.Background(), "user@example.com", `A\X`)
	var notFound *FolderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *FolderNotFoundError, got %v", err)
	}
	if notFound.Segment != "X" || notFound.Path != `A\X` {
		t.Errorf("FolderNotFoundError: got segment %q path %q", notFound.Segment, notFound.Path)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("folder listing calls: got %d, want 2", n)
	}
}

func TestReadFolder_CaseSensitiveMatch(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	_, err := p.ReadFolder(context.Background(), email.ReadOptions{Mailbox: "user@example.com", FolderPath: "inbox"})
	if !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("expected ErrFolderNotFound for wrong case, got %v", err)
	}
}

func TestReadFolder_TransportErrorIsNotFolderNotFound(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`))
	}), 0)

	_, err := p.ReadFolder(context.Background(), email.ReadOptions{Mailbox: "user@example.com"})

	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %T (%v)", err, err)
	}
	if errors.Is(err, ErrFolderNotFound) {
		t.Error("access denied must not match ErrFolderNotFound")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected wrapped 403 APIError, got %v", err)
	}
}

func TestReadFolder_FileAttachmentsOnly(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{Mailbox: "user@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	atts := msgs[0].Attachments
	if len(atts) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(atts))
	}
	if atts[0].Name != "report.txt" {
		t.Errorf("Name: got %q, want report.txt", atts[0].Name)
	}
	if atts[0].Content != nil {
		t.Errorf("Content: got %q, want nil without IncludeFileBytes", atts[0].Content)
	}
	if atts[0].Path != "" {
		t.Errorf("Path: got %q, want empty", atts[0].Path)
	}
}

func TestReadFolder_IncludeFileBytes(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:          "user@example.com",
		IncludeFileBytes: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msgs[0].Attachments[0].Content; !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Content: got %q, want %q", got, "hello")
	}
}

func TestReadFolder_PersistToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:              "user@example.com",
		PersistToDisk:        true,
		DestinationDirectory: dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := filepath.Join(dir, "report.txt")
	att := msgs[0].Attachments[0]
	if att.Path != want {
		t.Errorf("Path: got %q, want %q", att.Path, want)
	}
	if att.Content != nil {
		t.Error("Content should stay empty without IncludeFileBytes")
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("file content: got %q, want %q", data, "hello")
	}
}

func TestReadFolder_PersistToMissingDirectory(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	_, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:              "user@example.com",
		PersistToDisk:        true,
		DestinationDirectory: filepath.Join(t.TempDir(), "missing"),
	})

	var readErr *ReadError
	if !errors.As(err, &readErr) || readErr.Op != "save attachment" {
		t.Errorf("expected save attachment ReadError, got %v", err)
	}
}

func TestReadFolder_PersistRepeatedNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, _ := newTestProvider(t, &fakeMailbox{}, 0)

	// b1 and b2 both carry report.txt.
	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:              "user@example.com",
		FolderPath:           "A/B",
		PersistToDisk:        true,
		DestinationDirectory: dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}

	want := []string{filepath.Join(dir, "report.txt"), filepath.Join(dir, "report (1).txt")}
	for i, msg := range msgs {
		att := msg.Attachments[0]
		if att.Path != want[i] {
			t.Errorf("%s Path: got %q, want %q", msg.ID, att.Path, want[i])
		}
		if att.Name != "report.txt" {
			t.Errorf("%s Name: got %q, want report.txt", msg.ID, att.Name)
		}
		data, err := os.ReadFile(want[i])
		if err != nil {
			t.Fatalf("reading persisted file: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("%s file content: got %q, want %q", msg.ID, data, "hello")
		}
	}
}

func TestSavedNamesClaim(t *testing.T) {
	t.Parallel()

	saved := savedNames{}
	tests := []struct {
		name string
		want string
	}{
		{name: "report.txt", want: "report.txt"},
		{name: "report.txt", want: "report (1).txt"},
		{name: "../../etc/report.txt", want: "report (2).txt"},
		{name: "", want: "attachment"},
		{name: ".", want: "attachment (1)"},
		{name: "..", want: "attachment (2)"},
		{name: "/", want: "attachment (3)"},
		{name: "notes", want: "notes"},
		{name: "notes", want: "notes (1)"},
	}

	for _, tt := range tests {
		if got := saved.claim(tt.name); got != tt.want {
			t.Errorf("claim(%q): got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestReadFolder_KeepsProgressOnFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{failAttachmentsFor: "b2"}
	p, _ := newTestProvider(t, fake, 0)

	msgs, err := p.ReadFolder(context.Background(), email.ReadOptions{
		Mailbox:    "user@example.com",
		FolderPath: "A/B",
	})

	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %T (%v)", err, err)
	}
	if readErr.Op != "list attachments" {
		t.Errorf("Op: got %q, want list attachments", readErr.Op)
	}
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Errorf("partial result: got %+v, want only b1", msgs)
	}
}

func TestMessages_FollowsNextLinkAndRestarts(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)
	seq := p.Reader().Messages(context.Background(), "user@example.com", "inbox-id", 0)

	for round := 0; round < 2; round++ {
		var ids []string
		for m, err := range seq {
			if err != nil {
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
			ids = append(ids, m.ID)
		}
		if strings.Join(ids, ",") != "m1,m2,m3" {
			t.Errorf("round %d ids: got %v", round, ids)
		}
	}
}

func TestMessages_StopsEarly(t *testing.T) {
	t.Parallel()

	fake := &fakeMailbox{}
	p, _ := newTestProvider(t, fake, 0)

	for m, err := range p.Reader().Messages(context.Background(), "user@example.com", "inbox-id", 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.ID == "m1" {
			break
		}
	}

	if n := fake.count(func(p string) bool { return strings.HasSuffix(p, "/messages") }); n != 1 {
		t.Errorf("message page requests: got %d, want 1", n)
	}
}

func TestSplitFolderPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want []string
	}{
		{path: "Inbox", want: []string{"Inbox"}},
		{path: `A\B`, want: []string{"A", "B"}},
		{path: "A/B/C", want: []string{"A", "B", "C"}},
		{path: `/A\\B/`, want: []string{"A", "B"}},
		{path: "Projects 2026/Q1", want: []string{"Projects 2026", "Q1"}},
	}

	for _, tt := range tests {
		got := splitFolderPath(tt.path)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("splitFolderPath(%q): got %q, want %q", tt.path, got, tt.want)
		}
	}
}
