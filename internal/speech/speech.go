// Package speech picks the voice for a reply and hands the text to a
// synthesizer. Actual audio happens on the client; the server side only
// records what should be spoken and with which voice.
package speech

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

const DefaultLang = "en-US"

type Voice struct {
	ID   string `json:"id"`
	Lang string `json:"lang"`
}

// ParseVoice reads "id@lang", or derives lang from an id like "en-GB-Neural-A".
func ParseVoice(entry string) Voice {
	entry = strings.TrimSpace(entry)
	if id, lang, ok := strings.Cut(entry, "@"); ok {
		return Voice{ID: strings.TrimSpace(id), Lang: strings.TrimSpace(lang)}
	}
	parts := strings.SplitN(entry, "-", 3)
	if len(parts) >= 2 {
		return Voice{ID: entry, Lang: parts[0] + "-" + parts[1]}
	}
	return Voice{ID: entry, Lang: entry}
}

// Catalog holds the English voices available for selection.
type Catalog struct {
	voices []Voice
	def    Voice
}

func NewCatalog(entries []string, defaultID string) *Catalog {
	c := &Catalog{def: Voice{Lang: DefaultLang}}
	for _, e := range entries {
		v := ParseVoice(e)
		if v.ID == "" || !strings.Contains(strings.ToLower(v.Lang), "en") {
			continue
		}
		c.voices = append(c.voices, v)
	}
	if v, ok := c.Lookup(defaultID); ok {
		c.def = v
	}
	return c
}

func (c *Catalog) Voices() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

func (c *Catalog) Lookup(id string) (Voice, bool) {
	if id == "" {
		return Voice{}, false
	}
	for _, v := range c.voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// Default is the configured default voice. An empty ID means the client's
// system voice.
func (c *Catalog) Default() Voice {
	return c.def
}

// Resolve returns the selected voice if it is available, else the default.
func (c *Catalog) Resolve(selectedID string) Voice {
	if v, ok := c.Lookup(selectedID); ok {
		return v
	}
	return c.def
}

type Utterance struct {
	Text  string `json:"text"`
	Voice Voice  `json:"voice"`
}

type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

type LogSynthesizer struct {
	Logger zerolog.Logger
}

func (s LogSynthesizer) Speak(ctx context.Context, u Utterance) error {
	s.Logger.Debug().Str("voice", u.Voice.ID).Str("lang", u.Voice.Lang).Int("chars", len(u.Text)).Msg("speak")
	return nil
}
