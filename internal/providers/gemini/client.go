package gemini

import (
	"bytes"
	"context"
	"encoding/json"
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

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	SearchTool string
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
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.SearchTool == "" {
		// some deployments expect "web_search"; set Config.SearchTool for those
		cfg.SearchTool = "google_search"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string            `json:"responseMimeType"`
	ResponseSchema   *providers.Schema `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents          []content             `json:"contents"`
	SystemInstruction *content              `json:"systemInstruction,omitempty"`
	Tools             []map[string]struct{} `json:"tools,omitempty"`
	GenerationConfig  *generationConfig     `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *Client) Complete(ctx context.Context, req providers.GenerationRequest) (providers.Result, error) {
	if err := req.Validate(); err != nil {
		return providers.Result{}, err
	}
	body, err := c.buildPayload(req)
	if err != nil {
		return providers.Result{}, err
	}
	endpointURL, err := c.buildEndpointURL()
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

	var resp generateResponse
	err = policy.Do(ctx, func(int) error {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ModelAttempts.Inc()
		}
		var callErr error
		resp, callErr = c.callOnce(ctx, endpointURL, body)
		return callErr
	})
	if err != nil {
		c.cfg.Logger.Error().Err(err).Msg("model call failed")
		return providers.Result{}, err
	}
	return interpret(resp, req.OutputSchema != nil)
}

func (c *Client) buildPayload(req providers.GenerationRequest) ([]byte, error) {
	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}
	if req.WebSearch {
		payload.Tools = []map[string]struct{}{{c.cfg.SearchTool: {}}}
	}
	if req.OutputSchema != nil {
		payload.GenerationConfig = &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.OutputSchema,
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return b, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if strings.HasSuffix(base, ":generateContent") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if strings.TrimSpace(c.cfg.Model) == "" {
		return "", fmt.Errorf("model name is empty")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/models/" + c.cfg.Model + ":generateContent"
	return u.String(), nil
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (generateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return generateResponse{}, &providers.TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return generateResponse{}, &providers.TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return generateResponse{}, &providers.TransientError{Status: resp.StatusCode}
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return generateResponse{}, &providers.TransientError{Err: fmt.Errorf("decode generate response: %w", err)}
	}
	return out, nil
}

func interpret(resp generateResponse, structured bool) (providers.Result, error) {
	text := firstText(resp)
	if text == "" {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return providers.Result{}, &providers.BlockedError{Reason: resp.PromptFeedback.BlockReason}
		}
		if structured {
			return providers.Result{}, providers.ErrMalformedStructured
		}
		return providers.Result{}, providers.ErrEmptyResponse
	}
	if !structured {
		return providers.Result{Text: text}, nil
	}
	raw := []byte(strings.TrimSpace(text))
	if !json.Valid(raw) {
		return providers.Result{}, providers.ErrMalformedStructured
	}
	return providers.Result{Structured: raw}, nil
}

func firstText(resp generateResponse) string {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return resp.Candidates[0].Content.Parts[0].Text
}
