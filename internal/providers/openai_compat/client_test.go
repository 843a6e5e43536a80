package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"campusbot/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{BaseURL: "https://api.x.ai/v1", Model: "grok-beta"})

	body, endpoint, err := c.buildPayload(providers.GenerationRequest{
		SystemInstruction: "You are concise",
		Prompt:            "hello",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.x.ai/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["model"] != "grok-beta" {
		t.Fatalf("expected model grok-beta, got %#v", payload["model"])
	}
	if _, ok := payload["messages"]; !ok {
		t.Fatalf("messages missing in payload")
	}
	if _, ok := payload["response_format"]; ok {
		t.Fatalf("text mode must not carry response_format")
	}
}

func TestBuildPayloadSchemaLowersTypes(t *testing.T) {
	c := New(Config{BaseURL: "https://api.openai.com/v1", Model: "gpt-4.1"})

	body, _, err := c.buildPayload(providers.GenerationRequest{
		Prompt: "rewrite",
		OutputSchema: &providers.Schema{
			Type:       "OBJECT",
			Properties: map[string]providers.Schema{"tone": {Type: "STRING"}},
			Required:   []string{"tone"},
		},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	var payload struct {
		ResponseFormat struct {
			Type       string `json:"type"`
			JSONSchema struct {
				Schema struct {
					Type       string `json:"type"`
					Properties map[string]struct {
						Type string `json:"type"`
					} `json:"properties"`
				} `json:"schema"`
			} `json:"json_schema"`
		} `json:"response_format"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ResponseFormat.Type != "json_schema" {
		t.Fatalf("unexpected response_format %q", payload.ResponseFormat.Type)
	}
	if payload.ResponseFormat.JSONSchema.Schema.Type != "object" || payload.ResponseFormat.JSONSchema.Schema.Properties["tone"].Type != "string" {
		t.Fatalf("schema types were not lowered: %s", body)
	}
}

func TestCompleteRejectsWebSearch(t *testing.T) {
	c := New(Config{BaseURL: "https://api.openai.com/v1", Model: "gpt-4.1"})
	_, err := c.Complete(context.Background(), providers.GenerationRequest{Prompt: "who is x", WebSearch: true})
	if !errors.Is(err, ErrSearchUnsupported) {
		t.Fatalf("expected ErrSearchUnsupported, got %v", err)
	}
}

func TestCompleteReadsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"Library is in Building A."}}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "m"})
	res, err := c.Complete(context.Background(), providers.GenerationRequest{Prompt: "where is the library"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Text != "Library is in Building A." {
		t.Fatalf("unexpected text %q", res.Text)
	}
}
