package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestLocalHubDispatch(t *testing.T) {
	h := NewHub(nil, "test:", zerolog.Nop())
	ch, cancel := h.Subscribe(EventsTopic("2026-10-18"))
	other, cancelOther := h.Subscribe(EventsTopic("2026-10-19"))
	defer cancelOther()

	if err := h.Publish(context.Background(), EventsTopic("2026-10-18")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected signal on subscribed topic")
	}
	select {
	case <-other:
		t.Fatalf("unrelated topic must not be signalled")
	default:
	}

	cancel()
	if err := h.Publish(context.Background(), EventsTopic("2026-10-18")); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("cancelled listener must not be signalled")
	default:
	}
}

func TestRedisHubDispatch(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(rdb, "test:", zerolog.Nop())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	ch, unsubscribe := h.Subscribe(DNATopic("owner"))
	defer unsubscribe()

	if err := h.Publish(ctx, DNATopic("owner")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for redis signal")
	}
}
