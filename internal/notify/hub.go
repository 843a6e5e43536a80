package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Hub fans change signals for a topic out to local listeners. With a redis
// client, signals travel over PUBLISH/PSUBSCRIBE so every process sees writes
// made by any other. Without one, signals stay in-process.
type Hub struct {
	redis     *redis.Client
	prefix    string
	logger    zerolog.Logger
	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
}

func NewHub(rdb *redis.Client, prefix string, logger zerolog.Logger) *Hub {
	return &Hub{
		redis:     rdb,
		prefix:    prefix + "changes:",
		logger:    logger.With().Str("component", "notify").Logger(),
		listeners: map[string]map[chan struct{}]struct{}{},
	}
}

// Start establishes the redis pattern subscription and dispatches until ctx
// ends. It returns once the subscription is confirmed.
func (h *Hub) Start(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	ps := h.redis.PSubscribe(ctx, h.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("psubscribe changes: %w", err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					h.logger.Warn().Msg("change subscription closed")
					return
				}
				h.dispatch(strings.TrimPrefix(msg.Channel, h.prefix))
			}
		}
	}()
	return nil
}

// Publish signals that topic changed.
func (h *Hub) Publish(ctx context.Context, topic string) error {
	if h.redis == nil {
		h.dispatch(topic)
		return nil
	}
	if err := h.redis.Publish(ctx, h.prefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a coalescing signal channel for topic and a cancel func.
func (h *Hub) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.listeners[topic]
	if !ok {
		set = map[chan struct{}]struct{}{}
		h.listeners[topic] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[topic], ch)
			if len(h.listeners[topic]) == 0 {
				delete(h.listeners, topic)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) dispatch(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.listeners[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func DNATopic(ownerID string) string {
	return "dna:" + ownerID
}

func EventsTopic(day string) string {
	return "events:" + day
}
