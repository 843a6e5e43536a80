// Package optimizer rewrites the bot DNA from free-text feedback using a
// schema-constrained model call.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"campusbot/internal/dna"
	"campusbot/internal/metrics"
	"campusbot/internal/providers"
)

var (
	ErrEmptyFeedback    = errors.New("feedback is empty")
	ErrBusy             = errors.New("optimizer is already running")
	ErrInvalidOutput    = errors.New("optimizer returned invalid output")
	ErrModelUnavailable = errors.New("optimizer model unavailable")
	ErrSaveFailed       = errors.New("saving optimized dna failed")
)

const systemInstruction = `You are the Optimizer AI. Your task is to analyze user feedback and the AI's current configuration (DNA).
Your ONLY output must be a valid JSON object adhering to the schema.`

var OutputSchema = providers.Schema{
	Type: "OBJECT",
	Properties: map[string]providers.Schema{
		"persona":   {Type: "STRING"},
		"tone":      {Type: "STRING"},
		"maxLength": {Type: "NUMBER"},
	},
	Required: []string{"persona", "tone", "maxLength"},
}

type Updater interface {
	Update(ctx context.Context, patch dna.Patch) error
}

type Pipeline struct {
	provider providers.Provider
	updater  Updater
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	running  atomic.Bool
}

type Config struct {
	Provider providers.Provider
	Updater  Updater
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		provider: cfg.Provider,
		updater:  cfg.Updater,
		logger:   cfg.Logger.With().Str("component", "optimizer").Logger(),
		metrics:  cfg.Metrics,
	}
}

// Running reports whether an optimization is in flight.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Optimize asks the model for a new persona, tone and length, fills any
// falsy value from current and merge-writes the result. The voice is never
// part of the patch. A second call while one is in flight fails with ErrBusy.
func (p *Pipeline) Optimize(ctx context.Context, feedback string, current dna.Config) (dna.Patch, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return dna.Patch{}, ErrEmptyFeedback
	}
	if !p.running.CompareAndSwap(false, true) {
		return dna.Patch{}, ErrBusy
	}
	defer p.running.Store(false)

	patch, err := p.run(ctx, feedback, current)
	p.observe(err)
	return patch, err
}

func (p *Pipeline) run(ctx context.Context, feedback string, current dna.Config) (dna.Patch, error) {
	prompt, err := buildPrompt(feedback, current)
	if err != nil {
		return dna.Patch{}, err
	}
	schema := OutputSchema
	res, err := p.provider.Complete(ctx, providers.GenerationRequest{
		Prompt:            prompt,
		SystemInstruction: systemInstruction,
		OutputSchema:      &schema,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("optimizer model call failed")
		return dna.Patch{}, classify(err)
	}

	patch, err := Merge(res.Structured, current)
	if err != nil {
		p.logger.Warn().Err(err).Msg("optimizer output rejected")
		return dna.Patch{}, err
	}
	if err := p.updater.Update(ctx, patch); err != nil {
		p.logger.Error().Err(err).Msg("failed to save optimized dna")
		return dna.Patch{}, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	p.logger.Info().Str("tone", *patch.Tone).Int("max_length", *patch.MaxLength).Msg("bot dna optimized")
	return patch, nil
}

func (p *Pipeline) observe(err error) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidOutput):
		outcome = "invalid_output"
	case errors.Is(err, ErrSaveFailed):
		outcome = "save_failed"
	default:
		outcome = "model_unavailable"
	}
	p.metrics.OptimizerRuns.WithLabelValues(outcome).Inc()
}

func classify(err error) error {
	var blocked *providers.BlockedError
	switch {
	case errors.Is(err, providers.ErrMalformedStructured),
		errors.Is(err, providers.ErrEmptyResponse),
		errors.As(err, &blocked):
		return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	default:
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
}

func buildPrompt(feedback string, current dna.Config) (string, error) {
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode current dna: %w", err)
	}
	return fmt.Sprintf(`Analyze the requirements and output the new, updated JSON configuration (DNA):
---
**User Feedback:** %q
**Current DNA:** %s
---`, feedback, currentJSON), nil
}

type output struct {
	Persona   *string  `json:"persona"`
	Tone      *string  `json:"tone"`
	MaxLength *float64 `json:"maxLength"`
}

// Merge validates the model's document and fills empty, zero or missing
// fields from current. The returned patch sets persona, tone and maxLength
// only.
func Merge(raw json.RawMessage, current dna.Config) (dna.Patch, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return dna.Patch{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidOutput)
	}
	var out output
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return dna.Patch{}, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	persona := current.Persona
	if out.Persona != nil && strings.TrimSpace(*out.Persona) != "" {
		persona = *out.Persona
	}
	tone := current.Tone
	if out.Tone != nil && strings.TrimSpace(*out.Tone) != "" {
		tone = *out.Tone
	}
	maxLength := current.MaxLength
	if out.MaxLength != nil {
		if n := int(math.Round(*out.MaxLength)); n > 0 {
			maxLength = n
		}
	}
	return dna.Patch{Persona: &persona, Tone: &tone, MaxLength: &maxLength}, nil
}

// Message turns an Optimize result into the text shown to the operator.
func Message(err error) string {
	switch {
	case err == nil:
		return "Success! Bot DNA has been upgraded and saved."
	case errors.Is(err, ErrEmptyFeedback):
		return "Please enter some feedback for the Optimizer AI first."
	case errors.Is(err, ErrBusy):
		return "Optimizer AI is still analyzing earlier feedback. Please wait."
	case errors.Is(err, ErrInvalidOutput):
		return "Error: Optimizer AI failed to return valid JSON. Please try again."
	case errors.Is(err, ErrSaveFailed):
		return "Error saving new DNA. The previous DNA is unchanged."
	default:
		return "Error: Optimizer AI could not be reached. Please try again later."
	}
}
