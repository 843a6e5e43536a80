package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/feed"
)

type fakeWatcher struct {
	mu   sync.Mutex
	days []string
	subs []*feed.Subscription[[]events.Event]
}

func (f *fakeWatcher) Watch(ctx context.Context, day string) (*feed.Subscription[[]events.Event], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, day)
	sub := feed.New([]events.Event{}, nil)
	f.subs = append(f.subs, sub)
	return sub, nil
}

func TestSessionsReuseAndEvictIdle(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	watcher := &fakeWatcher{}
	s := NewSessions(SessionsConfig{
		Provider: &stubProvider{},
		DNA:      staticDNA(dna.Defaults()),
		Events:   watcher,
		Location: time.UTC,
		IdleTTL:  time.Hour,
		Now:      func() time.Time { return now },
		Logger:   zerolog.Nop(),
	})

	a, err := s.Get(context.Background(), "chat:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msgs := a.Transcript(); len(msgs) != 1 || msgs[0].Text != Greeting {
		t.Fatalf("new conversation must be greeted, got %+v", msgs)
	}
	b, _ := s.Get(context.Background(), "chat:1")
	if a != b {
		t.Fatalf("expected same controller for same key")
	}
	if len(watcher.days) != 1 || watcher.days[0] != "2026-10-18" {
		t.Fatalf("expected one watch on today, got %v", watcher.days)
	}

	now = now.Add(30 * time.Minute)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("active conversation evicted")
	}

	now = now.Add(16 * time.Hour)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	select {
	case <-watcher.subs[0].Done():
	default:
		t.Fatalf("evicted conversation must close its events watch")
	}

	if _, err := s.Get(context.Background(), "chat:1"); err != nil {
		t.Fatalf("get after eviction: %v", err)
	}
	if len(watcher.days) != 2 || watcher.days[1] != "2026-10-19" {
		t.Fatalf("new conversation must watch the new day, got %v", watcher.days)
	}
}
