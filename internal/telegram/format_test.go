package telegram

import (
	"errors"
	"strings"
	"testing"

	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/speech"
)

func TestParseEventAdd(t *testing.T) {
	day, ev, err := parseEventAdd("today Robotics Demo | Lab 3 | 2 PM", "2026-10-18")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if day != "2026-10-18" || ev != (events.Event{Name: "Robotics Demo", Venue: "Lab 3", Time: "2 PM"}) {
		t.Fatalf("unexpected result day=%s ev=%+v", day, ev)
	}

	day, _, err = parseEventAdd("2026-11-02 Fair | Quad | 10:00", "2026-10-18")
	if err != nil || day != "2026-11-02" {
		t.Fatalf("explicit date: day=%s err=%v", day, err)
	}
}

func TestParseEventAddRejects(t *testing.T) {
	cases := []string{
		"",
		"today",
		"today Fair | Quad",
		"02/11/2026 Fair | Quad | 10:00",
	}
	for _, in := range cases {
		if _, _, err := parseEventAdd(in, "2026-10-18"); err == nil {
			t.Fatalf("parseEventAdd(%q) expected error", in)
		}
	}

	var verr *events.ValidationError
	if _, _, err := parseEventAdd("today Fair |  | 10:00", "2026-10-18"); !errors.As(err, &verr) || verr.Field != "venue" {
		t.Fatalf("expected venue validation error, got %v", err)
	}
}

func TestParseEventDel(t *testing.T) {
	day, idx, err := parseEventDel("today 2", "2026-10-18")
	if err != nil || day != "2026-10-18" || idx != 1 {
		t.Fatalf("unexpected day=%s idx=%d err=%v", day, idx, err)
	}
	if _, _, err := parseEventDel("today 0", "2026-10-18"); err == nil {
		t.Fatalf("expected error for number 0")
	}
	if _, _, err := parseEventDel("today x", "2026-10-18"); err == nil {
		t.Fatalf("expected error for non-number")
	}
}

func TestFormatEvents(t *testing.T) {
	if got := formatEvents("2026-10-18", nil); got != "No events scheduled for 2026-10-18." {
		t.Fatalf("unexpected empty text %q", got)
	}
	got := formatEvents("2026-10-18", []events.Event{{Name: "Fair", Venue: "Quad", Time: "10:00"}})
	if !strings.Contains(got, "1. Fair at Quad (10:00)") {
		t.Fatalf("unexpected list %q", got)
	}
}

func TestFormatDNAAndVoices(t *testing.T) {
	if got := formatDNA(dna.Defaults()); !strings.Contains(got, `"maxLength": 100`) || !strings.Contains(got, `"selectedVoiceId": null`) {
		t.Fatalf("unexpected dna text %q", got)
	}
	got := formatVoices([]speech.Voice{{ID: "en-US-A", Lang: "en-US"}}, "en-US-A")
	if !strings.Contains(got, "en-US-A (en-US) [selected]") {
		t.Fatalf("unexpected voices text %q", got)
	}
}
