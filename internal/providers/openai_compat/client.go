package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/metrics"
	"campusbot/internal/providers"
	"campusbot/internal/providers/retry"
)

var ErrSearchUnsupported = errors.New("web search is not supported by openai-compatible backends")

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Headers    map[string]string
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Complete(ctx context.Context, req providers.GenerationRequest) (providers.Result, error) {
	if err := req.Validate(); err != nil {
		return providers.Result{}, err
	}
	if req.WebSearch {
		return providers.Result{}, ErrSearchUnsupported
	}
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.Result{}, err
	}

	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ModelRetries.Inc()
		}
		c.cfg.Logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("model call failed, retrying")
	}

	var text string
	err = policy.Do(ctx, func(int) error {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ModelAttempts.Inc()
		}
		var callErr error
		text, callErr = c.callOnce(ctx, endpointURL, body)
		return callErr
	})
	if err != nil {
		return providers.Result{}, err
	}

	if strings.TrimSpace(text) == "" {
		if req.OutputSchema != nil {
			return providers.Result{}, providers.ErrMalformedStructured
		}
		return providers.Result{}, providers.ErrEmptyResponse
	}
	if req.OutputSchema == nil {
		return providers.Result{Text: text}, nil
	}
	raw := []byte(strings.TrimSpace(text))
	if !json.Valid(raw) {
		return providers.Result{}, providers.ErrMalformedStructured
	}
	return providers.Result{Structured: raw}, nil
}

func (c *Client) buildPayload(req providers.GenerationRequest) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	messages := []map[string]string{}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemInstruction})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	if req.OutputSchema != nil {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "structured_output",
				"schema": jsonSchema(*req.OutputSchema),
			},
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &providers.TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &providers.TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &providers.TransientError{Status: resp.StatusCode}
	}
	return parseChatCompletions(respBody)
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
				Refusal any `json:"refusal"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &providers.TransientError{Err: fmt.Errorf("decode chat completion response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	if refusal := anyToText(resp.Choices[0].Message.Refusal); strings.TrimSpace(refusal) != "" {
		return "", &providers.BlockedError{Reason: refusal}
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text, nil
	}
	return anyToText(resp.Choices[0].Message.Content), nil
}

// jsonSchema lowers the service-style upper-case type names to JSON Schema.
func jsonSchema(s providers.Schema) map[string]any {
	out := map[string]any{"type": strings.ToLower(s.Type)}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = jsonSchema(p)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
