// Package httpapi exposes conversations and the operator surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"campusbot/internal/admin"
	"campusbot/internal/conversation"
	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/optimizer"
	"campusbot/internal/queue"
	"campusbot/internal/speech"
	"campusbot/internal/storage"
)

const (
	sessionPrefix = "http:"
	maxBodyBytes  = 64 << 10
)

type Sessions interface {
	Get(ctx context.Context, key string) (*conversation.Controller, error)
}

type DNASource interface {
	Latest() dna.Config
}

type DNAUpdater interface {
	Update(ctx context.Context, patch dna.Patch) error
}

type AuditReader interface {
	RecentActions(ctx context.Context, limit uint64) ([]storage.AuditEntry, error)
}

type Server struct {
	sessions    Sessions
	rateLimiter *queue.RateLimiter
	gate        *admin.Gate
	dna         DNASource
	dnaWriter   DNAUpdater
	events      *events.Adapter
	optimizer   *optimizer.Pipeline
	voices      *speech.Catalog
	audit       AuditReader
	location    *time.Location
	turnTimeout time.Duration
	logger      zerolog.Logger
	router      chi.Router
}

type Config struct {
	Sessions    Sessions
	RateLimiter *queue.RateLimiter
	Gate        *admin.Gate
	DNA         DNASource
	DNAWriter   DNAUpdater
	Events      *events.Adapter
	Optimizer   *optimizer.Pipeline
	Voices      *speech.Catalog
	Audit       AuditReader
	Location    *time.Location
	TurnTimeout time.Duration

	HealthPath     string
	MetricsPath    string
	MetricsHandler http.Handler
	WebhookPath    string
	Webhook        http.Handler
	Ping           func(ctx context.Context) error

	Logger zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	s := &Server{
		sessions:    cfg.Sessions,
		rateLimiter: cfg.RateLimiter,
		gate:        cfg.Gate,
		dna:         cfg.DNA,
		dnaWriter:   cfg.DNAWriter,
		events:      cfg.Events,
		optimizer:   cfg.Optimizer,
		voices:      cfg.Voices,
		audit:       cfg.Audit,
		location:    cfg.Location,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get(cfg.HealthPath, s.health(cfg.Ping))
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}
	if cfg.Webhook != nil && cfg.WebhookPath != "" {
		r.Method(http.MethodPost, "/"+strings.Trim(cfg.WebhookPath, "/"), cfg.Webhook)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/voices", s.listVoices)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/turns", s.postTurn)
			r.Get("/transcript", s.getTranscript)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/unlock", s.unlock)
			r.Post("/lock", s.lock)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/dna", s.getDNA)
				r.Put("/dna/voice", s.putVoice)
				r.Post("/optimize", s.optimize)
				r.Get("/events/{date}", s.getEvents)
				r.Post("/events/{date}", s.postEvent)
				r.Delete("/events/{date}/{index}", s.deleteEvent)
				r.Get("/audit", s.getAudit)
			})
		})
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("health check failed")
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error body.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
