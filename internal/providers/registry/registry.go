package registry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/metrics"
	"campusbot/internal/providers"
	"campusbot/internal/providers/gemini"
	"campusbot/internal/providers/openai_compat"
	"campusbot/internal/providers/retry"
)

type BuildOptions struct {
	Kind        string
	BaseURL     string
	APIKey      string
	Model       string
	SearchTool  string
	HTTPClient  *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func Build(opts BuildOptions) (providers.Provider, error) {
	policy := retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     retry.Exponential(opts.BackoffBase),
	}
	if opts.BackoffBase <= 0 {
		policy.Backoff = retry.Exponential(time.Second)
	}
	logger := opts.Logger.With().Str("component", "model").Str("provider", opts.Kind).Logger()

	switch opts.Kind {
	case "gemini", "google":
		return gemini.New(gemini.Config{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			SearchTool: opts.SearchTool,
			HTTPClient: opts.HTTPClient,
			Retry:      policy,
			Logger:     logger,
			Metrics:    opts.Metrics,
		}), nil

	case "openai_compat", "openai-compatible", "openai":
		return openai_compat.New(openai_compat.Config{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			HTTPClient: opts.HTTPClient,
			Retry:      policy,
			Logger:     logger,
			Metrics:    opts.Metrics,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}
