package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"campusbot/internal/admin"
	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/optimizer"
)

const optimizeTimeout = 2 * time.Minute

func (s *Service) unlock(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	if ctx.EffectiveChat != nil && ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "Send /unlock in a private chat with me.")
	}
	secret := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if secret == "" {
		return s.reply(ctx, b, "Usage: /unlock <secret>")
	}
	// the secret should not linger in the chat history
	_, _ = ctx.EffectiveMessage.Delete(b, nil)

	err := s.gate.Unlock(context.Background(), userKey(ctx.EffectiveUser.Id), secret)
	switch {
	case errors.Is(err, admin.ErrWrongSecret):
		return s.reply(ctx, b, "Incorrect password. Please try again.")
	case err != nil:
		s.logger.Error().Err(err).Msg("unlock failed")
		return s.reply(ctx, b, "Could not unlock right now. Please retry.")
	}
	return s.replyWithMarkup(ctx, b, "Admin panel unlocked.", s.adminKeyboard())
}

func (s *Service) lock(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	_ = s.wizard.Clear(context.Background(), ctx.EffectiveUser.Id)
	if err := s.gate.Lock(context.Background(), userKey(ctx.EffectiveUser.Id)); err != nil {
		s.logger.Error().Err(err).Msg("lock failed")
		return s.reply(ctx, b, "Could not lock right now. Please retry.")
	}
	return s.reply(ctx, b, "Admin panel locked.")
}

// requireUnlocked replies and returns false unless the user unlocked the
// admin panel.
func (s *Service) requireUnlocked(b *gotgbot.Bot, ctx *ext.Context) bool {
	if ctx.EffectiveUser == nil {
		return false
	}
	err := s.gate.Require(context.Background(), userKey(ctx.EffectiveUser.Id))
	if err == nil {
		return true
	}
	if !errors.Is(err, admin.ErrLocked) {
		s.logger.Error().Err(err).Msg("admin check failed")
	}
	_ = s.reply(ctx, b, "Admin panel is locked. Send /unlock <secret> in a private chat.")
	return false
}

func (s *Service) showDNA(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireUnlocked(b, ctx) {
		return nil
	}
	return s.reply(ctx, b, formatDNA(s.dna.Latest()))
}

func (s *Service) listVoices(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, formatVoices(s.voices.Voices(), s.dna.Latest().Voice()))
}

func (s *Service) setVoice(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireUnlocked(b, ctx) {
		return nil
	}
	arg := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if arg == "" {
		return s.reply(ctx, b, "Usage: /voice <id|none>")
	}
	voiceID := arg
	if strings.EqualFold(arg, "none") || strings.EqualFold(arg, "default") {
		voiceID = ""
	} else if _, ok := s.voices.Lookup(arg); !ok {
		return s.reply(ctx, b, "Unknown voice. See /voices.")
	}

	if err := s.dnaWriter.Update(context.Background(), dna.VoicePatch(voiceID)); err != nil {
		s.logger.Error().Err(err).Msg("failed to save voice")
		return s.reply(ctx, b, "Failed to save voice preference.")
	}
	s.gate.Record(context.Background(), admin.Actor(userKey(ctx.EffectiveUser.Id)), "voice_set", map[string]any{"voice": voiceID})
	if voiceID == "" {
		return s.reply(ctx, b, "Voice reset to the system default.")
	}
	return s.reply(ctx, b, "Voice set to "+voiceID+".")
}

func (s *Service) feedback(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireUnlocked(b, ctx) {
		return nil
	}
	text := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if text == "" {
		return s.reply(ctx, b, "Usage: /feedback <what the bot should do differently>")
	}
	_ = s.reply(ctx, b, "Optimizer AI is analyzing feedback...")

	opCtx, cancel := context.WithTimeout(context.Background(), optimizeTimeout)
	defer cancel()
	patch, err := s.optimizer.Optimize(opCtx, text, s.dna.Latest())
	if err == nil {
		s.gate.Record(context.Background(), admin.Actor(userKey(ctx.EffectiveUser.Id)), "dna_optimized", map[string]any{
			"tone":       *patch.Tone,
			"max_length": *patch.MaxLength,
		})
	}
	return s.reply(ctx, b, optimizer.Message(err))
}

func (s *Service) listEvents(b *gotgbot.Bot, ctx *ext.Context) error {
	day, err := resolveDate(commandRemainder(ctx.EffectiveMessage.GetText()), s.today())
	if err != nil {
		return s.reply(ctx, b, "Dates look like 2026-10-18.")
	}
	list, err := s.events.List(context.Background(), day)
	if err != nil {
		s.logger.Error().Err(err).Str("date", day).Msg("failed to list events")
		return s.reply(ctx, b, "Failed to load events.")
	}
	return s.reply(ctx, b, formatEvents(day, list))
}

func (s *Service) eventAdd(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireUnlocked(b, ctx) {
		return nil
	}
	rem := strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText()))
	if !strings.Contains(rem, "|") {
		return s.beginEventWizard(b, ctx, rem)
	}

	day, ev, err := parseEventAdd(rem, s.today())
	if err != nil {
		return s.reply(ctx, b, err.Error())
	}
	return s.saveEvent(b, ctx, day, ev)
}

func (s *Service) saveEvent(b *gotgbot.Bot, ctx *ext.Context, day string, ev events.Event) error {
	list, err := s.events.Add(context.Background(), day, ev)
	if err != nil {
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			return s.reply(ctx, b, "Please fill out all event fields (name, venue, and time).")
		}
		s.logger.Error().Err(err).Str("date", day).Msg("failed to add event")
		return s.reply(ctx, b, "Failed to add event.")
	}
	s.gate.Record(context.Background(), admin.Actor(userKey(ctx.EffectiveUser.Id)), "event_add", map[string]any{"date": day, "name": ev.Name})
	return s.reply(ctx, b, "Event added.\n\n"+formatEvents(day, list))
}

func (s *Service) eventDel(b *gotgbot.Bot, ctx *ext.Context) error {
	if !s.requireUnlocked(b, ctx) {
		return nil
	}
	day, idx, err := parseEventDel(commandRemainder(ctx.EffectiveMessage.GetText()), s.today())
	if err != nil {
		return s.reply(ctx, b, err.Error())
	}
	list, err := s.events.Delete(context.Background(), day, idx)
	if err != nil {
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			return s.reply(ctx, b, "No event with that number. See /events "+day)
		}
		s.logger.Error().Err(err).Str("date", day).Msg("failed to delete event")
		return s.reply(ctx, b, "Failed to delete event.")
	}
	s.gate.Record(context.Background(), admin.Actor(userKey(ctx.EffectiveUser.Id)), "event_del", map[string]any{"date": day, "index": idx})
	return s.reply(ctx, b, "Event deleted.\n\n"+formatEvents(day, list))
}

func (s *Service) beginEventWizard(b *gotgbot.Bot, ctx *ext.Context, dateArg string) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, errEventAddUsage.Error())
	}
	day, err := resolveDate(dateArg, s.today())
	if err != nil {
		return s.reply(ctx, b, "Dates look like 2026-10-18.")
	}
	state := eventWizardState{Date: day, Step: stepName}
	if err := s.wizard.Set(context.Background(), ctx.EffectiveUser.Id, state); err != nil {
		return s.reply(ctx, b, "Failed to start the event wizard.")
	}
	return s.reply(ctx, b, "Adding an event for "+day+". Send the event name (or /cancel).")
}

func (s *Service) wizardStep(b *gotgbot.Bot, ctx *ext.Context, state *eventWizardState, text string) error {
	uid := ctx.EffectiveUser.Id
	if err := s.gate.Require(context.Background(), userKey(uid)); err != nil {
		_ = s.wizard.Clear(context.Background(), uid)
		return s.reply(ctx, b, "Admin panel is locked. Event wizard canceled.")
	}

	switch state.Step {
	case stepName:
		state.Name = text
		state.Step = stepVenue
		if err := s.wizard.Set(context.Background(), uid, *state); err != nil {
			return s.reply(ctx, b, "Failed to persist wizard state.")
		}
		return s.reply(ctx, b, "Send the venue.")

	case stepVenue:
		state.Venue = text
		state.Step = stepTime
		if err := s.wizard.Set(context.Background(), uid, *state); err != nil {
			return s.reply(ctx, b, "Failed to persist wizard state.")
		}
		return s.reply(ctx, b, "Send the time (e.g. 2 PM).")

	case stepTime:
		_ = s.wizard.Clear(context.Background(), uid)
		return s.saveEvent(b, ctx, state.Date, events.Event{Name: state.Name, Venue: state.Venue, Time: text})
	}

	_ = s.wizard.Clear(context.Background(), uid)
	return s.reply(ctx, b, "Wizard state error. Start again with /event_add.")
}

func (s *Service) cancelWizard(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	if err := s.wizard.Clear(context.Background(), ctx.EffectiveUser.Id); err != nil {
		return s.reply(ctx, b, "Failed to cancel wizard right now.")
	}
	return s.reply(ctx, b, "Wizard canceled.")
}
