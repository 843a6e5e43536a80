package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/speech"
)

var (
	errEventAddUsage = errors.New("usage: /event_add <date|today> <name> | <venue> | <time>")
	errEventDelUsage = errors.New("usage: /event_del <date|today> <number>")
)

// resolveDate maps "" and "today" to today and validates anything else.
func resolveDate(arg, today string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || strings.EqualFold(arg, "today") {
		return today, nil
	}
	if err := events.ValidDate(arg); err != nil {
		return "", err
	}
	return arg, nil
}

func parseEventAdd(rem, today string) (string, events.Event, error) {
	dateArg, rest := splitFirstWord(rem)
	if dateArg == "" || rest == "" {
		return "", events.Event{}, errEventAddUsage
	}
	day, err := resolveDate(dateArg, today)
	if err != nil {
		return "", events.Event{}, err
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return "", events.Event{}, errEventAddUsage
	}
	ev := events.Event{
		Name:  strings.TrimSpace(parts[0]),
		Venue: strings.TrimSpace(parts[1]),
		Time:  strings.TrimSpace(parts[2]),
	}
	if err := ev.Validate(); err != nil {
		return "", events.Event{}, err
	}
	return day, ev, nil
}

// parseEventDel takes the 1-based number shown by /events and returns a
// 0-based index.
func parseEventDel(rem, today string) (string, int, error) {
	dateArg, rest := splitFirstWord(rem)
	if dateArg == "" || rest == "" {
		return "", 0, errEventDelUsage
	}
	day, err := resolveDate(dateArg, today)
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 1 {
		return "", 0, errEventDelUsage
	}
	return day, n - 1, nil
}

func formatEvents(day string, list []events.Event) string {
	if len(list) == 0 {
		return fmt.Sprintf("No events scheduled for %s.", day)
	}
	lines := []string{fmt.Sprintf("Events for %s:", day)}
	for i, ev := range list {
		lines = append(lines, fmt.Sprintf("%d. %s at %s (%s)", i+1, ev.Name, ev.Venue, ev.Time))
	}
	return strings.Join(lines, "\n")
}

func formatDNA(cfg dna.Config) string {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "Bot DNA is unavailable."
	}
	return "Current Bot DNA:\n" + string(b)
}

func formatVoices(voices []speech.Voice, selected string) string {
	if len(voices) == 0 {
		return "No voices configured. Replies use the system default voice."
	}
	lines := []string{"Available voices:"}
	for _, v := range voices {
		line := fmt.Sprintf("- %s (%s)", v.ID, v.Lang)
		if v.ID == selected {
			line += " [selected]"
		}
		lines = append(lines, line)
	}
	if selected == "" {
		lines = append(lines, "", "No voice selected: system default in use.")
	}
	return strings.Join(lines, "\n")
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
