package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "dictation.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func record(t *testing.T, es *Store, events ...protocol.Event) {
	t.Helper()
	for _, ev := range events {
		if err := es.Handle(context.Background(), ev); err != nil {
			t.Fatalf("handle %s: %v", ev.Type, err)
		}
	}
}

func sessionEvents(id string, at time.Time) []protocol.Event {
	return []protocol.Event{
		{Type: protocol.EventSessionStarted, SessionID: id, Timestamp: at},
		{Type: protocol.EventTranscriptRevision, SessionID: id, Timestamp: at.Add(time.Second), Revision: 1, Text: "hello", LowConfidence: []string{"hello"}},
		{Type: protocol.EventEditApplied, SessionID: id, Timestamp: at.Add(2 * time.Second), Revision: 1, Edit: &protocol.EditSummary{Revision: 1, Inserted: 5, Plan: `type "hello"`, Attempt: 1}},
		{Type: protocol.EventSessionEnded, SessionID: id, Timestamp: at.Add(3 * time.Second), Revision: 2, Text: "hello", Final: true, Outcome: "committed", Reason: "release"},
	}
}

func TestOpenEphemeral(t *testing.T) {
	es, err := Open(context.Background(), config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	record(t, es, sessionEvents("s-1", time.Now())...)
	sessions, err := es.ListSessions(context.Background(), 10)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("ephemeral store should keep nothing, got %v (%v)", sessions, err)
	}
	if _, err := es.GetSession(context.Background(), "s-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordsSessionHistory(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session", StoreText: true})
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	record(t, es, sessionEvents("s-1", start)...)

	sess, err := es.GetSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.StartedAt.Equal(start) || !sess.EndedAt.Equal(start.Add(3*time.Second)) {
		t.Fatalf("unexpected timestamps %+v", sess)
	}
	if sess.Outcome != "committed" || sess.Reason != "release" || sess.Revision != 2 || sess.Text != "hello" {
		t.Fatalf("unexpected session row %+v", sess)
	}

	events, err := es.ListSessionEvents(context.Background(), "s-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 || events[0].Type != protocol.EventSessionStarted || events[3].Type != protocol.EventSessionEnded {
		t.Fatalf("unexpected events %+v", events)
	}
	ev, err := events[2].Decode()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Edit == nil || ev.Edit.Plan == "" {
		t.Fatalf("edit summary lost: %+v", ev)
	}
}

func TestRedactsTextUnlessEnabled(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", StoreText: false})
	record(t, es, sessionEvents("s-1", time.Now().UTC())...)

	sess, err := es.GetSession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Text != "" {
		t.Fatalf("text persisted with store_text disabled: %q", sess.Text)
	}
	events, err := es.ListSessionEvents(context.Background(), "s-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, stored := range events {
		ev, err := stored.Decode()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Text != "" || len(ev.LowConfidence) != 0 || (ev.Edit != nil && ev.Edit.Plan != "") {
			t.Fatalf("event %s leaked text: %+v", ev.Type, ev)
		}
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	record(t, es, sessionEvents("older", base)...)
	record(t, es, sessionEvents("newer", base.Add(time.Hour))...)

	sessions, err := es.ListSessions(context.Background(), 1)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "newer" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	record(t, es, sessionEvents("old-session", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))...)
	record(t, es, sessionEvents("mid-session", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC))...)
	record(t, es, sessionEvents("new-session", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))...)

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session events pruned with their session")
	}
	sessions, err := es.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("expected only the newest session to survive, got %+v", sessions)
	}
}
