package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusbot/internal/admin"
	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/metrics"
	"campusbot/internal/optimizer"
	"campusbot/internal/queue"
	"campusbot/internal/speech"
)

type DNASource interface {
	Latest() dna.Config
}

type DNAUpdater interface {
	Update(ctx context.Context, patch dna.Patch) error
}

type Service struct {
	queue       *queue.StreamQueue
	rateLimiter *queue.RateLimiter
	wizard      *wizardStore
	gate        *admin.Gate
	dna         DNASource
	dnaWriter   DNAUpdater
	events      *events.Adapter
	optimizer   *optimizer.Pipeline
	voices      *speech.Catalog
	location    *time.Location
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

type Config struct {
	Queue       *queue.StreamQueue
	RateLimiter *queue.RateLimiter
	Redis       *redis.Client
	KeyPrefix   string
	Gate        *admin.Gate
	DNA         DNASource
	DNAWriter   DNAUpdater
	Events      *events.Adapter
	Optimizer   *optimizer.Pipeline
	Voices      *speech.Catalog
	Location    *time.Location
	WizardTTL   time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 20 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		queue:       cfg.Queue,
		rateLimiter: cfg.RateLimiter,
		wizard:      newWizardStore(cfg.Redis, cfg.KeyPrefix, cfg.WizardTTL),
		gate:        cfg.Gate,
		dna:         cfg.DNA,
		dnaWriter:   cfg.DNAWriter,
		events:      cfg.Events,
		optimizer:   cfg.Optimizer,
		voices:      cfg.Voices,
		location:    cfg.Location,
		logger:      cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics:     m,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("menu", s.menu))
	d.AddHandler(handlers.NewCommand("ask", s.ask))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelWizard))
	d.AddHandler(handlers.NewCommand("unlock", s.unlock))
	d.AddHandler(handlers.NewCommand("lock", s.lock))
	d.AddHandler(handlers.NewCommand("dna", s.showDNA))
	d.AddHandler(handlers.NewCommand("voices", s.listVoices))
	d.AddHandler(handlers.NewCommand("voice", s.setVoice))
	d.AddHandler(handlers.NewCommand("feedback", s.feedback))
	d.AddHandler(handlers.NewCommand("events", s.listEvents))
	d.AddHandler(handlers.NewCommand("event_add", s.eventAdd))
	d.AddHandler(handlers.NewCommand("event_del", s.eventDel))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg) && !strings.HasPrefix(msg.Text, "/")
	}, s.privateText))
}

func (s *Service) now() time.Time {
	return time.Now().In(s.location)
}

func (s *Service) today() string {
	return events.Today(s.now(), s.location)
}

func chatSession(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

func userKey(userID int64) string {
	return fmt.Sprintf("tg-user:%d", userID)
}
