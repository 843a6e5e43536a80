package dna

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"campusbot/internal/feed"
	"campusbot/internal/metrics"
	"campusbot/internal/notify"
	"campusbot/internal/storage"
)

type Store interface {
	LoadDNA(ctx context.Context, ownerID string) (storage.Document, error)
	CreateDNA(ctx context.Context, ownerID string, doc json.RawMessage) (bool, error)
	MergeDNA(ctx context.Context, ownerID string, patch map[string]json.RawMessage) (json.RawMessage, error)
}

type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(topic string) (<-chan struct{}, func())
}

// Mirror keeps an in-memory copy of one owner's document. Writes go to the
// store only; memory changes when the change signal brings the stored value
// back, so there is a single source of truth.
type Mirror struct {
	store    Store
	notifier Notifier
	ownerID  string
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type MirrorConfig struct {
	Store    Store
	Notifier Notifier
	OwnerID  string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewMirror(cfg MirrorConfig) *Mirror {
	return &Mirror{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		ownerID:  cfg.OwnerID,
		logger:   cfg.Logger.With().Str("component", "dna").Str("owner", cfg.OwnerID).Logger(),
		metrics:  cfg.Metrics,
	}
}

func (m *Mirror) OwnerID() string {
	return m.ownerID
}

// Subscribe loads the current document, creating it from defaults when
// absent, and keeps the returned subscription current until ctx ends or the
// subscription is closed.
func (m *Mirror) Subscribe(ctx context.Context) (*feed.Subscription[Config], error) {
	signals, cancel := m.notifier.Subscribe(notify.DNATopic(m.ownerID))
	initial, err := m.load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := feed.New(initial, cancel)

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.Done():
				return
			case <-signals:
				cfg, err := m.load(ctx)
				if err != nil {
					m.logger.Error().Err(err).Msg("failed to reload bot dna")
					continue
				}
				sub.Publish(cfg)
			}
		}
	}()
	return sub, nil
}

// Update merge-writes patch and signals subscribers. It never touches the
// in-memory copy directly.
func (m *Mirror) Update(ctx context.Context, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	fields, err := patch.Fields()
	if err != nil {
		return err
	}
	if _, err := m.store.MergeDNA(ctx, m.ownerID, fields); err != nil {
		return fmt.Errorf("merge bot dna: %w", err)
	}
	if m.metrics != nil {
		m.metrics.DNAWrites.Inc()
	}
	if err := m.notifier.Publish(ctx, notify.DNATopic(m.ownerID)); err != nil {
		m.logger.Warn().Err(err).Msg("failed to signal dna change")
	}
	return nil
}

func (m *Mirror) load(ctx context.Context) (Config, error) {
	doc, err := m.store.LoadDNA(ctx, m.ownerID)
	if err == nil {
		cfg, decodeErr := Decode(doc.Body)
		if decodeErr != nil {
			m.logger.Warn().Err(decodeErr).Msg("stored dna is unreadable, using defaults")
		}
		return cfg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Config{}, fmt.Errorf("load bot dna: %w", err)
	}

	defaults := Defaults()
	body, err := Encode(defaults)
	if err != nil {
		return defaults, nil
	}
	created, err := m.store.CreateDNA(ctx, m.ownerID, body)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create default bot dna")
		return defaults, nil
	}
	if !created {
		// another writer got there first; theirs is authoritative
		doc, err := m.store.LoadDNA(ctx, m.ownerID)
		if err != nil {
			return defaults, nil
		}
		cfg, _ := Decode(doc.Body)
		return cfg, nil
	}
	m.logger.Info().Msg("created default bot dna")
	return defaults, nil
}
