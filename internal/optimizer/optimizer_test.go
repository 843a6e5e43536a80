package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"campusbot/internal/dna"
	"campusbot/internal/providers"
)

type fakeProvider struct {
	result  providers.Result
	err     error
	gate    chan struct{}
	started chan struct{}
	last    providers.GenerationRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req providers.GenerationRequest) (providers.Result, error) {
	f.last = req
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.result, f.err
}

type fakeUpdater struct {
	patches []dna.Patch
	err     error
}

func (f *fakeUpdater) Update(ctx context.Context, patch dna.Patch) error {
	if f.err != nil {
		return f.err
	}
	f.patches = append(f.patches, patch)
	return nil
}

func current() dna.Config {
	voice := "en-US-1"
	return dna.Config{Persona: "Guide.", Tone: "casual", MaxLength: 100, SelectedVoiceID: &voice}
}

func newPipeline(p providers.Provider, u Updater) *Pipeline {
	return New(Config{Provider: p, Updater: u, Logger: zerolog.Nop()})
}

func TestOptimizeSendsSchemaRequest(t *testing.T) {
	prov := &fakeProvider{result: providers.Result{Structured: json.RawMessage(`{"persona":"New.","tone":"formal","maxLength":60}`)}}
	upd := &fakeUpdater{}
	patch, err := newPipeline(prov, upd).Optimize(context.Background(), "be more formal", current())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if prov.last.OutputSchema == nil || prov.last.WebSearch {
		t.Fatalf("expected schema mode without search: %+v", prov.last)
	}
	if got := prov.last.OutputSchema.Required; len(got) != 3 {
		t.Fatalf("expected 3 required fields, got %v", got)
	}
	if !strings.Contains(prov.last.Prompt, `"be more formal"`) || !strings.Contains(prov.last.Prompt, `"persona": "Guide."`) {
		t.Fatalf("prompt must embed feedback and current dna:\n%s", prov.last.Prompt)
	}
	if *patch.Persona != "New." || *patch.Tone != "formal" || *patch.MaxLength != 60 {
		t.Fatalf("unexpected patch %+v", patch)
	}
	if patch.SetVoice {
		t.Fatalf("optimizer must never touch the voice")
	}
	if len(upd.patches) != 1 {
		t.Fatalf("expected one update, got %d", len(upd.patches))
	}
}

func TestMergeFallsBackOnFalsyFields(t *testing.T) {
	patch, err := Merge(json.RawMessage(`{"persona":"","maxLength":0}`), current())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if *patch.Persona != "Guide." || *patch.Tone != "casual" || *patch.MaxLength != 100 {
		t.Fatalf("expected fallback to current values, got persona=%q tone=%q max=%d",
			*patch.Persona, *patch.Tone, *patch.MaxLength)
	}
}

func TestMergeRejectsWrongTypes(t *testing.T) {
	for _, raw := range []string{`{"tone":7}`, `null`, `["x"]`, ``} {
		if _, err := Merge(json.RawMessage(raw), current()); !errors.Is(err, ErrInvalidOutput) {
			t.Fatalf("Merge(%q): expected ErrInvalidOutput, got %v", raw, err)
		}
	}
}

func TestOptimizeClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
		msg  string
	}{
		{"malformed", providers.ErrMalformedStructured, ErrInvalidOutput, "failed to return valid JSON"},
		{"blocked", &providers.BlockedError{Reason: "SAFETY"}, ErrInvalidOutput, "failed to return valid JSON"},
		{"exhausted", &providers.ExhaustedError{Attempts: 3, Last: &providers.TransientError{Status: 503}}, ErrModelUnavailable, "could not be reached"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			upd := &fakeUpdater{}
			_, err := newPipeline(&fakeProvider{err: tc.err}, upd).Optimize(context.Background(), "shorter", current())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !strings.Contains(Message(err), tc.msg) {
				t.Fatalf("unexpected message %q", Message(err))
			}
			if len(upd.patches) != 0 {
				t.Fatalf("failed run must not write")
			}
		})
	}
}

func TestOptimizeSaveFailure(t *testing.T) {
	prov := &fakeProvider{result: providers.Result{Structured: json.RawMessage(`{"persona":"a","tone":"b","maxLength":5}`)}}
	_, err := newPipeline(prov, &fakeUpdater{err: errors.New("disk full")}).Optimize(context.Background(), "x", current())
	if !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("expected ErrSaveFailed, got %v", err)
	}
}

func TestOptimizeRejectsEmptyFeedback(t *testing.T) {
	prov := &fakeProvider{}
	if _, err := newPipeline(prov, &fakeUpdater{}).Optimize(context.Background(), "   ", current()); !errors.Is(err, ErrEmptyFeedback) {
		t.Fatalf("expected ErrEmptyFeedback, got %v", err)
	}
	if prov.last.Prompt != "" {
		t.Fatalf("empty feedback must not reach the model")
	}
}

func TestOptimizeSingleFlight(t *testing.T) {
	prov := &fakeProvider{
		result:  providers.Result{Structured: json.RawMessage(`{"persona":"a","tone":"b","maxLength":5}`)},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	p := newPipeline(prov, &fakeUpdater{})

	done := make(chan error, 1)
	go func() {
		_, err := p.Optimize(context.Background(), "first", current())
		done <- err
	}()
	select {
	case <-prov.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run did not start")
	}

	if _, err := p.Optimize(context.Background(), "second", current()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(prov.gate)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if p.Running() {
		t.Fatalf("flag must be cleared after the run")
	}
}
