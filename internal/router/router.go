// Package router decides per utterance whether the model may search the web
// or must answer only from the campus data, and builds the request.
package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/providers"
)

type Kind string

const (
	KindWebSearch Kind = "web_search"
	KindGrounded  Kind = "grounded"
)

var WebSearchTriggers = []string{
	"search for",
	"what is",
	"who is",
	"when did",
	"google",
	"tell me about",
}

const plainProseRule = "IMPORTANT: Do not use markdown, bullet points, or asterisks (*). You must present all lists as a single, natural paragraph."

// Classify matches the trigger phrases as case-insensitive prefixes of the
// raw utterance. Leading whitespace is not skipped.
func Classify(utterance string) Kind {
	lower := strings.ToLower(utterance)
	for _, trigger := range WebSearchTriggers {
		if strings.HasPrefix(lower, trigger) {
			return KindWebSearch
		}
	}
	return KindGrounded
}

// SystemInstruction renders the persona, tone and length directive.
func SystemInstruction(cfg dna.Config) string {
	return fmt.Sprintf("%s You should use a %s tone. Keep your response text under %d words.",
		cfg.Persona, cfg.Tone, cfg.MaxLength)
}

// Route builds the single request for one turn. Grounding data is embedded
// in full every time.
func Route(utterance string, cfg dna.Config, knowledge json.RawMessage, today []events.Event) providers.GenerationRequest {
	if Classify(utterance) == KindWebSearch {
		return providers.GenerationRequest{
			Prompt:            utterance,
			SystemInstruction: SystemInstruction(cfg),
			WebSearch:         true,
		}
	}
	return providers.GenerationRequest{
		Prompt:            GroundedPrompt(utterance, knowledge, today),
		SystemInstruction: SystemInstruction(cfg) + "\n" + plainProseRule,
	}
}

func GroundedPrompt(utterance string, knowledge json.RawMessage, today []events.Event) string {
	if len(knowledge) == 0 {
		knowledge = json.RawMessage("[]")
	}
	if today == nil {
		today = []events.Event{}
	}
	eventsJSON, err := json.Marshal(today)
	if err != nil {
		eventsJSON = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("[KNOWLEDGE BASE (Locations)]\n")
	b.Write(knowledge)
	b.WriteString("\n[END KNOWLEDGE BASE]\n\n")
	b.WriteString("[TODAY'S EVENTS (Name, Venue, & Time)]\n")
	b.Write(eventsJSON)
	b.WriteString("\n[END TODAY'S EVENTS]\n\n")
	b.WriteString(`You are a campus guide. You have two sets of data:
1. A KNOWLEDGE BASE of all permanent locations.
2. A list of TODAY'S EVENTS, which includes a time for each event.

STRICT RULE: If the user asks about a location (e.g., "where is the library"), use the KNOWLEDGE BASE.
STRICT RULE 2: If the user asks about "today's events", "what's happening", or asks about a specific event, use the TODAY'S EVENTS list. You must list the event name, its venue, and its time. If the list is empty, say "I don't see any events scheduled for today."
STRICT RULE 3: If a user asks about events at a specific time (e.g., "any events this morning?", "what's happening at 2 PM?"), use the 'time' field in the TODAY'S EVENTS list to answer.
FALLBACK RULE: For greetings, respond politely. For *any other question*, you MUST state that you can only provide information about campus locations and today's events.
ABSOLUTE RULE: DO NOT search the web. DO NOT provide any external information.

`)
	b.WriteString("User Query: ")
	b.WriteString(utterance)
	b.WriteString("\n")
	return b.String()
}
