// Package admin guards the operator surface with one shared secret. It is a
// speed bump, not an authorization model: whoever knows the secret can
// unlock a session for a while.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusbot/internal/storage"
)

var (
	ErrWrongSecret = errors.New("incorrect operator secret")
	ErrLocked      = errors.New("admin session is locked")
)

type Auditor interface {
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Gate struct {
	redis   *redis.Client
	prefix  string
	secret  []byte
	ttl     time.Duration
	auditor Auditor
	logger  zerolog.Logger
}

type Config struct {
	Redis   *redis.Client
	Prefix  string
	Secret  string
	TTL     time.Duration
	Auditor Auditor
	Logger  zerolog.Logger
}

func NewGate(cfg Config) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &Gate{
		redis:   cfg.Redis,
		prefix:  cfg.Prefix,
		secret:  []byte(cfg.Secret),
		ttl:     cfg.TTL,
		auditor: cfg.Auditor,
		logger:  cfg.Logger.With().Str("component", "admin").Logger(),
	}
}

func (g *Gate) key(session string) string {
	return fmt.Sprintf("%sadmin:%s", g.prefix, session)
}

// Check compares secret with the operator secret in constant time.
func (g *Gate) Check(secret string) bool {
	if len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(secret)), g.secret) == 1
}

// Unlock opens session for the configured TTL.
func (g *Gate) Unlock(ctx context.Context, session, secret string) error {
	if !g.Check(secret) {
		g.Record(ctx, Actor(session), "unlock_failed", nil)
		return ErrWrongSecret
	}
	if err := g.redis.Set(ctx, g.key(session), "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("store admin session: %w", err)
	}
	g.Record(ctx, Actor(session), "unlock", nil)
	return nil
}

// IssueToken unlocks a fresh random session and returns its token.
func (g *Gate) IssueToken(ctx context.Context, secret string) (string, error) {
	token := uuid.NewString()
	if err := g.Unlock(ctx, token, secret); err != nil {
		return "", err
	}
	return token, nil
}

func (g *Gate) Lock(ctx context.Context, session string) error {
	if err := g.redis.Del(ctx, g.key(session)).Err(); err != nil {
		return fmt.Errorf("clear admin session: %w", err)
	}
	g.Record(ctx, Actor(session), "lock", nil)
	return nil
}

// Require returns ErrLocked unless session is unlocked. Each successful
// check extends the session.
func (g *Gate) Require(ctx context.Context, session string) error {
	if strings.TrimSpace(session) == "" {
		return ErrLocked
	}
	ok, err := g.redis.Expire(ctx, g.key(session), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("check admin session: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Record writes an admin action to the audit log. Failures are logged only.
func (g *Gate) Record(ctx context.Context, actor, action string, meta any) {
	if g.auditor == nil {
		return
	}
	metaJSON := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}
	if err := g.auditor.LogAction(ctx, storage.AuditEntry{Actor: actor, Action: action, MetaJSON: metaJSON}); err != nil {
		g.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

// Actor shortens a session key for the audit log so HTTP tokens are not
// stored whole.
func Actor(session string) string {
	if len(session) <= 12 {
		return session
	}
	return session[:8] + "..."
}
