package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusbot/internal/conversation"
	"campusbot/internal/dna"
	"campusbot/internal/providers"
	"campusbot/internal/queue"
	"campusbot/internal/speech"
)

type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, req providers.GenerationRequest) (providers.Result, error) {
	return providers.Result{Text: "The Library is in B2."}, nil
}

type defaultDNA struct{}

func (defaultDNA) Latest() dna.Config { return dna.Defaults() }

type oneSession struct {
	ctrl *conversation.Controller
	keys chan string
}

func (s *oneSession) Get(ctx context.Context, key string) (*conversation.Controller, error) {
	s.keys <- key
	return s.ctrl, nil
}

type recordingReplier struct {
	replies chan string
}

func (r *recordingReplier) Reply(ctx context.Context, chatID, replyTo int64, text string) error {
	r.replies <- text
	return nil
}

func TestWorkerRunsTurnAndReplies(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	q := queue.NewStreamQueue(rdb, "test:turns", "workers", "w1", 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	ctrl := conversation.NewController(conversation.Config{
		Provider: echoProvider{},
		DNA:      defaultDNA{},
		Synth:    speech.LogSynthesizer{Logger: zerolog.Nop()},
		Logger:   zerolog.Nop(),
	})
	sessions := &oneSession{ctrl: ctrl, keys: make(chan string, 1)}
	replier := &recordingReplier{replies: make(chan string, 1)}

	w := New(Config{Queue: q, Sessions: sessions, Replier: replier, Logger: zerolog.Nop()})
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx, 1)
		close(done)
	}()

	if _, err := q.Enqueue(ctx, queue.TurnJob{Session: "tg:7", ChatID: 7, Text: "where is the library"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case key := <-sessions.keys:
		if key != "tg:7" {
			t.Fatalf("expected session tg:7, got %q", key)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for session lookup")
	}
	select {
	case text := <-replier.replies:
		if text != "The Library is in B2." {
			t.Fatalf("unexpected reply %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for reply")
	}

	cancel()
	<-done
	if got := ctrl.Transcript(); len(got) != 2 {
		t.Fatalf("expected user and assistant messages, got %+v", got)
	}
}
