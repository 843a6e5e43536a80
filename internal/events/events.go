// Package events keeps per-day event lists. A day's list is one document
// that is always replaced whole; append and delete are read, compute, replace.
// Two admins editing the same day can overwrite each other. Last write wins.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/feed"
	"campusbot/internal/metrics"
	"campusbot/internal/notify"
	"campusbot/internal/storage"
)

const DateLayout = "2006-01-02"

type Event struct {
	Name  string `json:"name"`
	Venue string `json:"venue"`
	Time  string `json:"time"`
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate requires all three fields.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if strings.TrimSpace(e.Venue) == "" {
		return &ValidationError{Field: "venue", Reason: "required"}
	}
	if strings.TrimSpace(e.Time) == "" {
		return &ValidationError{Field: "time", Reason: "required"}
	}
	return nil
}

// Today returns the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DateLayout)
}

func ValidDate(day string) error {
	if _, err := time.Parse(DateLayout, day); err != nil {
		return &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return nil
}

type Store interface {
	LoadEvents(ctx context.Context, day string) (storage.Document, error)
	ReplaceEvents(ctx context.Context, day string, events json.RawMessage) error
}

type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(topic string) (<-chan struct{}, func())
}

type Adapter struct {
	store    Store
	notifier Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Store    Store
	Notifier Notifier
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func New(cfg Config) *Adapter {
	return &Adapter{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With().Str("component", "events").Logger(),
		metrics:  cfg.Metrics,
	}
}

// List reads the day's events once. A day that was never written is empty.
func (a *Adapter) List(ctx context.Context, day string) ([]Event, error) {
	if err := ValidDate(day); err != nil {
		return nil, err
	}
	doc, err := a.store.LoadEvents(ctx, day)
	if errors.Is(err, storage.ErrNotFound) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", day, err)
	}
	var list []Event
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &list); err != nil {
			return nil, fmt.Errorf("decode events %s: %w", day, err)
		}
	}
	if list == nil {
		list = []Event{}
	}
	return list, nil
}

// Watch yields the day's list now and again after every change.
func (a *Adapter) Watch(ctx context.Context, day string) (*feed.Subscription[[]Event], error) {
	if err := ValidDate(day); err != nil {
		return nil, err
	}
	signals, cancel := a.notifier.Subscribe(notify.EventsTopic(day))
	initial, err := a.List(ctx, day)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := feed.New(initial, cancel)
	log := a.logger.With().Str("date", day).Logger()

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.Done():
				return
			case <-signals:
				list, err := a.List(ctx, day)
				if err != nil {
					log.Error().Err(err).Msg("failed to reload events")
					continue
				}
				sub.Publish(list)
			}
		}
	}()
	return sub, nil
}

// Replace overwrites the day's list.
func (a *Adapter) Replace(ctx context.Context, day string, list []Event) error {
	if err := ValidDate(day); err != nil {
		return err
	}
	if list == nil {
		list = []Event{}
	}
	body, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	if err := a.store.ReplaceEvents(ctx, day, body); err != nil {
		return fmt.Errorf("replace events %s: %w", day, err)
	}
	if a.metrics != nil {
		a.metrics.EventWrites.Inc()
	}
	if err := a.notifier.Publish(ctx, notify.EventsTopic(day)); err != nil {
		a.logger.Warn().Err(err).Str("date", day).Msg("failed to signal events change")
	}
	return nil
}

// Add appends ev to the day's list.
func (a *Adapter) Add(ctx context.Context, day string, ev Event) ([]Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ev = Event{
		Name:  strings.TrimSpace(ev.Name),
		Venue: strings.TrimSpace(ev.Venue),
		Time:  strings.TrimSpace(ev.Time),
	}
	current, err := a.List(ctx, day)
	if err != nil {
		return nil, err
	}
	next := append(current, ev)
	if err := a.Replace(ctx, day, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes the event at index from the day's list.
func (a *Adapter) Delete(ctx context.Context, day string, index int) ([]Event, error) {
	current, err := a.List(ctx, day)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(current) {
		return nil, &ValidationError{Field: "index", Reason: fmt.Sprintf("out of range 0..%d", len(current)-1)}
	}
	next := make([]Event, 0, len(current)-1)
	next = append(next, current[:index]...)
	next = append(next, current[index+1:]...)
	if err := a.Replace(ctx, day, next); err != nil {
		return nil, err
	}
	return next, nil
}
