package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"campusbot/internal/providers"
	"campusbot/internal/providers/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(url string) *Client {
	return New(Config{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "gemini-test",
		Retry:   retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(time.Second), Sleep: noSleep},
	})
}

func textResponse(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, textResponse("The library is north of the quad."))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Complete(context.Background(), providers.GenerationRequest{Prompt: "where is the library"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if res.Text != "The library is north of the quad." {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestCompleteExhaustsAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), providers.GenerationRequest{Prompt: "hi"})
	var exhausted *providers.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected no 4th attempt, got %d calls", calls.Load())
	}
}

func TestCompleteSurfacesBlockReason(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), providers.GenerationRequest{Prompt: "something"})
	var blocked *providers.BlockedError
	if !errors.As(err, &blocked) || blocked.Reason != "SAFETY" {
		t.Fatalf("expected blocked SAFETY, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("blocked content must not be retried, got %d calls", calls.Load())
	}
}

func TestCompleteStructuredMode(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = io.WriteString(w, textResponse(`{"persona":"p","tone":"t","maxLength":50}`))
	}))
	defer srv.Close()

	schema := &providers.Schema{Type: "OBJECT", Required: []string{"persona"}}
	res, err := newTestClient(srv.URL).Complete(context.Background(), providers.GenerationRequest{
		Prompt:            "rewrite",
		SystemInstruction: "json only",
		OutputSchema:      schema,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !json.Valid(res.Structured) {
		t.Fatalf("expected structured json, got %q", res.Structured)
	}
	gc, ok := payload["generationConfig"].(map[string]any)
	if !ok || gc["responseMimeType"] != "application/json" {
		t.Fatalf("generationConfig missing: %#v", payload)
	}
	if _, ok := payload["tools"]; ok {
		t.Fatalf("schema mode must not enable tools")
	}
	if _, ok := payload["systemInstruction"]; !ok {
		t.Fatalf("systemInstruction missing")
	}
}

func TestCompleteStructuredParseFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, textResponse("not json at all"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), providers.GenerationRequest{
		Prompt:       "rewrite",
		OutputSchema: &providers.Schema{Type: "OBJECT"},
	})
	if !errors.Is(err, providers.ErrMalformedStructured) {
		t.Fatalf("expected ErrMalformedStructured, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed output must not be retried, got %d calls", calls.Load())
	}
}

func TestBuildPayloadWebSearch(t *testing.T) {
	c := New(Config{BaseURL: "http://x", Model: "m", SearchTool: "web_search"})
	body, err := c.buildPayload(providers.GenerationRequest{Prompt: "who is ada lovelace", WebSearch: true})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if !strings.Contains(string(body), `"tools":[{"web_search":{}}]`) {
		t.Fatalf("expected web search tool directive, got %s", body)
	}
	if strings.Contains(string(body), "generationConfig") {
		t.Fatalf("search mode must not carry a schema: %s", body)
	}
}

func TestBuildPayloadDefaultSearchTool(t *testing.T) {
	c := New(Config{BaseURL: "http://x", Model: "m"})
	body, err := c.buildPayload(providers.GenerationRequest{Prompt: "who is ada lovelace", WebSearch: true})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if !strings.Contains(string(body), `"tools":[{"google_search":{}}]`) {
		t.Fatalf("expected google_search by default, got %s", body)
	}
}

func TestCompleteRejectsInvalidRequest(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if _, err := c.Complete(context.Background(), providers.GenerationRequest{Prompt: "  "}); !errors.Is(err, providers.ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	_, err := c.Complete(context.Background(), providers.GenerationRequest{
		Prompt:       "x",
		WebSearch:    true,
		OutputSchema: &providers.Schema{Type: "OBJECT"},
	})
	if !errors.Is(err, providers.ErrConflictingModes) {
		t.Fatalf("expected ErrConflictingModes, got %v", err)
	}
}
