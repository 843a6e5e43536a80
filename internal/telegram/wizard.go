package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventWizardState walks an operator through adding one event in a
// private chat: name, then venue, then time.
type eventWizardState struct {
	Date  string `json:"date"`
	Step  string `json:"step"`
	Name  string `json:"name"`
	Venue string `json:"venue"`
}

const (
	stepName  = "name"
	stepVenue = "venue"
	stepTime  = "time"
)

type wizardStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func newWizardStore(rdb *redis.Client, prefix string, ttl time.Duration) *wizardStore {
	return &wizardStore{redis: rdb, prefix: prefix, ttl: ttl}
}

func (w *wizardStore) key(userID int64) string {
	return fmt.Sprintf("%swizard:%d", w.prefix, userID)
}

func (w *wizardStore) Set(ctx context.Context, userID int64, state eventWizardState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, w.key(userID), string(b), w.ttl).Err()
}

func (w *wizardStore) Get(ctx context.Context, userID int64) (*eventWizardState, error) {
	raw, err := w.redis.Get(ctx, w.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state eventWizardState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (w *wizardStore) Clear(ctx context.Context, userID int64) error {
	return w.redis.Del(ctx, w.key(userID)).Err()
}
