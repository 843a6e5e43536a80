// Package dna holds the bot's mutable personality document: persona, tone,
// response length and voice. The stored document may lag behind the code;
// every read is back-filled with defaults so callers always see a complete
// configuration.
package dna

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultPersona   = "You are a friendly and helpful campus guide bot. Your job is to help students find locations on campus."
	DefaultTone      = "casual and helpful"
	DefaultMaxLength = 100
)

type Config struct {
	Persona         string  `json:"persona"`
	Tone            string  `json:"tone"`
	MaxLength       int     `json:"maxLength"`
	SelectedVoiceID *string `json:"selectedVoiceId"`
}

func Defaults() Config {
	return Config{
		Persona:   DefaultPersona,
		Tone:      DefaultTone,
		MaxLength: DefaultMaxLength,
	}
}

// Voice returns the selected voice id or "".
func (c Config) Voice() string {
	if c.SelectedVoiceID == nil {
		return ""
	}
	return *c.SelectedVoiceID
}

// Decode merges a stored document over the defaults. Missing, empty,
// non-positive or mistyped fields keep their default; each field is read on
// its own so one bad field does not discard the others.
func Decode(raw []byte) (Config, error) {
	cfg := Defaults()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("decode dna document: %w", err)
	}
	if v, ok := decodeString(doc["persona"]); ok && strings.TrimSpace(v) != "" {
		cfg.Persona = v
	}
	if v, ok := decodeString(doc["tone"]); ok && strings.TrimSpace(v) != "" {
		cfg.Tone = v
	}
	var n float64
	if f := doc["maxLength"]; f != nil && json.Unmarshal(f, &n) == nil {
		if rounded := int(math.Round(n)); rounded > 0 {
			cfg.MaxLength = rounded
		}
	}
	if v, ok := decodeString(doc["selectedVoiceId"]); ok && v != "" {
		cfg.SelectedVoiceID = &v
	}
	return cfg, nil
}

func decodeString(field json.RawMessage) (string, bool) {
	if field == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(field, &s); err != nil {
		return "", false
	}
	return s, true
}

// Encode renders the full document, as written on first creation.
func Encode(c Config) (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode dna document: %w", err)
	}
	return b, nil
}

// Patch is a partial update. Nil fields are left untouched remotely.
// SetVoice distinguishes "clear the voice" from "leave it alone".
type Patch struct {
	Persona         *string
	Tone            *string
	MaxLength       *int
	SetVoice        bool
	SelectedVoiceID *string
}

func (p Patch) Empty() bool {
	return p.Persona == nil && p.Tone == nil && p.MaxLength == nil && !p.SetVoice
}

// Fields returns the top-level document keys this patch writes.
func (p Patch) Fields() (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = b
		return nil
	}
	if p.Persona != nil {
		if err := put("persona", *p.Persona); err != nil {
			return nil, err
		}
	}
	if p.Tone != nil {
		if err := put("tone", *p.Tone); err != nil {
			return nil, err
		}
	}
	if p.MaxLength != nil {
		if err := put("maxLength", *p.MaxLength); err != nil {
			return nil, err
		}
	}
	if p.SetVoice {
		if err := put("selectedVoiceId", p.SelectedVoiceID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// VoicePatch selects voiceID, or clears the selection when voiceID is "".
func VoicePatch(voiceID string) Patch {
	p := Patch{SetVoice: true}
	if voiceID != "" {
		p.SelectedVoiceID = &voiceID
	}
	return p
}
