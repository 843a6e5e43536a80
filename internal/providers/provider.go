package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GenerationRequest describes one model invocation. OutputSchema and
// WebSearch are mutually exclusive.
type GenerationRequest struct {
	Prompt            string
	SystemInstruction string
	OutputSchema      *Schema
	WebSearch         bool
}

// Schema is the subset of the service's response schema dialect the
// optimizer needs.
type Schema struct {
	Type       string            `json:"type"`
	Properties map[string]Schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

// Result holds either free text or, in schema mode, the raw JSON document.
type Result struct {
	Text       string
	Structured json.RawMessage
}

type Provider interface {
	Complete(ctx context.Context, req GenerationRequest) (Result, error)
}

var (
	ErrEmptyPrompt         = errors.New("prompt is empty")
	ErrConflictingModes    = errors.New("output schema and web search are mutually exclusive")
	ErrMalformedStructured = errors.New("structured response is not valid JSON")
	ErrEmptyResponse       = errors.New("model returned an empty response")
)

// TransientError marks a failure worth retrying: transport errors and
// non-success HTTP statuses.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("model service status %d", e.Status)
	}
	return fmt.Sprintf("model service unreachable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BlockedError is returned when the service refuses the prompt on safety
// grounds. Reason is the service's block reason, verbatim.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "prompt blocked: " + e.Reason
}

// ExhaustedError is the terminal failure after every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsRetryable reports whether err is a TransientError.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Validate checks the request invariants before any network call.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.OutputSchema != nil && r.WebSearch {
		return ErrConflictingModes
	}
	return nil
}
