package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/metrics"
	"campusbot/internal/providers"
	"campusbot/internal/router"
	"campusbot/internal/speech"
)

const (
	Greeting    = "Hello! I am your campus assistant. Ask me where to find any location or what's happening today!"
	Placeholder = "..."

	emptyText     = "Sorry, I received an empty response."
	exhaustedText = "An API error occurred. Please try again later."
	genericText   = "Sorry, I had an error processing that. Please try again."
)

var (
	ErrBlankUtterance = errors.New("utterance is blank")
	ErrTurnPending    = errors.New("a turn is already pending")
)

type DNASource interface {
	Latest() dna.Config
}

type EventsSource interface {
	Latest() []events.Event
}

// Reply is the outcome of one turn. Failure holds the model error that was
// turned into the reply text, if any.
type Reply struct {
	Message   Message
	Utterance speech.Utterance
	Route     router.Kind
	Failure   error
}

// Controller runs the turns of one conversation, one at a time.
type Controller struct {
	provider  providers.Provider
	dna       DNASource
	events    EventsSource
	knowledge json.RawMessage
	voices    *speech.Catalog
	synth     speech.Synthesizer
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onClose   func()

	pending    atomic.Bool
	transcript *Transcript
	closeOnce  sync.Once
}

type Config struct {
	Provider  providers.Provider
	DNA       DNASource
	Events    EventsSource
	Knowledge json.RawMessage
	Voices    *speech.Catalog
	Synth     speech.Synthesizer
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// OnClose releases per-conversation resources such as the events watch.
	OnClose func()
}

func NewController(cfg Config) *Controller {
	voices := cfg.Voices
	if voices == nil {
		voices = speech.NewCatalog(nil, "")
	}
	synth := cfg.Synth
	if synth == nil {
		synth = speech.LogSynthesizer{Logger: cfg.Logger}
	}
	return &Controller{
		provider:   cfg.Provider,
		dna:        cfg.DNA,
		events:     cfg.Events,
		knowledge:  cfg.Knowledge,
		voices:     voices,
		synth:      synth,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		onClose:    cfg.OnClose,
		transcript: NewTranscript(uuid.NewString),
	}
}

// Greet adds the opening assistant message to an empty transcript.
func (c *Controller) Greet() {
	c.transcript.AppendIfEmpty(SenderAssistant, Greeting)
}

func (c *Controller) Transcript() []Message {
	return c.transcript.Messages()
}

func (c *Controller) Pending() bool {
	return c.pending.Load()
}

// ProcessTurn runs one user turn. Blank input and a turn already in flight
// are rejected without touching the transcript. Model failures do not
// surface as errors; they become the assistant's reply text.
func (c *Controller) ProcessTurn(ctx context.Context, utterance string) (Reply, error) {
	if strings.TrimSpace(utterance) == "" {
		return Reply{}, ErrBlankUtterance
	}
	if !c.pending.CompareAndSwap(false, true) {
		return Reply{}, ErrTurnPending
	}
	defer c.pending.Store(false)

	c.transcript.Append(SenderUser, utterance)
	placeholder := c.transcript.Append(SenderAssistant, Placeholder)

	cfg := c.dna.Latest()
	var today []events.Event
	if c.events != nil {
		today = c.events.Latest()
	}
	kind := router.Classify(utterance)
	req := router.Route(utterance, cfg, c.knowledge, today)

	res, err := c.provider.Complete(ctx, req)
	text := ReplyText(res, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("route", string(kind)).Msg("turn failed")
	}
	msg, _ := c.transcript.Replace(placeholder.ID, text)
	c.observe(kind, err)

	utt := speech.Utterance{Text: text, Voice: c.voices.Resolve(cfg.Voice())}
	if err := c.synth.Speak(ctx, utt); err != nil {
		c.logger.Warn().Err(err).Msg("speech output failed")
	}
	return Reply{Message: msg, Utterance: utt, Route: kind, Failure: err}, nil
}

// Close releases the conversation's subscriptions.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Controller) observe(kind router.Kind, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.Turns.WithLabelValues(string(kind), outcome(err)).Inc()
}

// ReplyText maps a model result to what the assistant says.
func ReplyText(res providers.Result, err error) string {
	if err == nil {
		if strings.TrimSpace(res.Text) == "" {
			return emptyText
		}
		return res.Text
	}
	var blocked *providers.BlockedError
	var exhausted *providers.ExhaustedError
	switch {
	case errors.As(err, &blocked):
		return "My apologies, but I cannot respond to that due to: " + blocked.Reason
	case errors.Is(err, providers.ErrEmptyResponse):
		return emptyText
	case errors.As(err, &exhausted):
		return exhaustedText
	default:
		return genericText
	}
}

func outcome(err error) string {
	var blocked *providers.BlockedError
	var exhausted *providers.ExhaustedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &blocked):
		return "blocked"
	case errors.Is(err, providers.ErrEmptyResponse):
		return "empty"
	case errors.As(err, &exhausted):
		return "exhausted"
	default:
		return "error"
	}
}
