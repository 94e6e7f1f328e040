package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogAndListAuthEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.LogAuthEvent(ctx, &AuthEvent{
			ID:        uuid.New().String(),
			Subject:   fmt.Sprintf("user-%d", i),
			AuthType:  "api_key",
			Action:    "auth.success",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("LogAuthEvent: %v", err)
		}
	}

	events, err := s.ListAuthEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListAuthEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Subject != "user-2" {
		t.Errorf("first event subject: got %q, want user-2", events[0].Subject)
	}

	limited, err := s.ListAuthEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListAuthEvents(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d events, want 2", len(limited))
	}
}

func TestPurgeOldAuthEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &AuthEvent{
		ID:        uuid.New().String(),
		Action:    "auth.denied",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &AuthEvent{
		ID:        uuid.New().String(),
		Action:    "auth.success",
		CreatedAt: time.Now(),
	}
	for _, ev := range []*AuthEvent{old, fresh} {
		if err := s.LogAuthEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeOldAuthEvents(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldAuthEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d events, want 1", n)
	}

	events, err := s.ListAuthEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Action != "auth.success" {
		t.Errorf("unexpected remaining events: %+v", events)
	}
}
