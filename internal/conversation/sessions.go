package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/events"
	"campusbot/internal/feed"
	"campusbot/internal/metrics"
	"campusbot/internal/providers"
	"campusbot/internal/speech"
)

type EventsWatcher interface {
	Watch(ctx context.Context, day string) (*feed.Subscription[[]events.Event], error)
}

// Sessions owns one Controller per conversation key. Each conversation
// watches the events of the day it started on; idle conversations are
// dropped so the next one picks up a fresh day.
type Sessions struct {
	provider  providers.Provider
	dna       DNASource
	watcher   EventsWatcher
	knowledge json.RawMessage
	voices    *speech.Catalog
	synth     speech.Synthesizer
	location  *time.Location
	idleTTL   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	items map[string]*session
}

type session struct {
	ctrl     *Controller
	day      string
	lastUsed time.Time
}

type SessionsConfig struct {
	Provider  providers.Provider
	DNA       DNASource
	Events    EventsWatcher
	Knowledge json.RawMessage
	Voices    *speech.Catalog
	Synth     speech.Synthesizer
	Location  *time.Location
	IdleTTL   time.Duration
	Now       func() time.Time
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	return &Sessions{
		provider:  cfg.Provider,
		dna:       cfg.DNA,
		watcher:   cfg.Events,
		knowledge: cfg.Knowledge,
		voices:    cfg.Voices,
		synth:     cfg.Synth,
		location:  cfg.Location,
		idleTTL:   cfg.IdleTTL,
		now:       cfg.Now,
		logger:    cfg.Logger.With().Str("component", "sessions").Logger(),
		metrics:   cfg.Metrics,
		items:     map[string]*session{},
	}
}

// Get returns the conversation for key, starting and greeting a new one if
// needed.
func (s *Sessions) Get(ctx context.Context, key string) (*Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if it, ok := s.items[key]; ok {
		it.lastUsed = now
		return it.ctrl, nil
	}

	day := events.Today(now, s.location)
	watchCtx, cancel := context.WithCancel(context.Background())
	sub, err := s.watcher.Watch(watchCtx, day)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch events for %s: %w", day, err)
	}
	ctrl := NewController(Config{
		Provider:  s.provider,
		DNA:       s.dna,
		Events:    sub,
		Knowledge: s.knowledge,
		Voices:    s.voices,
		Synth:     s.synth,
		Logger:    s.logger.With().Str("session", key).Logger(),
		Metrics:   s.metrics,
		OnClose: func() {
			sub.Close()
			cancel()
		},
	})
	ctrl.Greet()
	s.items[key] = &session{ctrl: ctrl, day: day, lastUsed: now}
	s.logger.Debug().Str("session", key).Str("date", day).Msg("conversation started")
	return ctrl, nil
}

// Sweep closes conversations idle for longer than the TTL. A conversation
// with a turn in flight is kept.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	evicted := 0
	for key, it := range s.items {
		if now.Sub(it.lastUsed) < s.idleTTL || it.ctrl.Pending() {
			continue
		}
		it.ctrl.Close()
		delete(s.items, key)
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("idle conversations closed")
	}
	return evicted
}

// Run sweeps on every tick until ctx ends, then closes everything.
func (s *Sessions) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, it := range s.items {
		it.ctrl.Close()
		delete(s.items, key)
	}
}
