package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"campusbot/internal/admin"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	s.answerCallback(b, ctx, "", false)

	switch data {
	case cbMenu:
		return s.editOrReplyCallback(ctx, b, s.mainMenuText(), s.mainMenuKeyboard())

	case cbHowAsk:
		return s.editOrReplyCallback(ctx, b, s.askUsageText(), s.backToMenuKeyboard())

	case cbAdminHelp:
		return s.editOrReplyCallback(ctx, b, s.adminHelpText(), s.backToMenuKeyboard())

	case cbVoices:
		text := formatVoices(s.voices.Voices(), s.dna.Latest().Voice())
		return s.editOrReplyCallback(ctx, b, text, s.backToMenuKeyboard())

	case cbEventsToday:
		day := s.today()
		list, err := s.events.List(context.Background(), day)
		if err != nil {
			s.answerCallback(b, ctx, "Failed to load events.", true)
			return nil
		}
		return s.editOrReplyCallback(ctx, b, formatEvents(day, list), s.backToMenuKeyboard())

	case cbShowDNA:
		if !s.callbackUnlocked(ctx) {
			s.answerCallback(b, ctx, "Admin panel is locked.", true)
			return nil
		}
		return s.editOrReplyCallback(ctx, b, formatDNA(s.dna.Latest()), s.adminKeyboard())

	case cbLock:
		if ctx.EffectiveUser == nil {
			return nil
		}
		_ = s.wizard.Clear(context.Background(), ctx.EffectiveUser.Id)
		if err := s.gate.Lock(context.Background(), userKey(ctx.EffectiveUser.Id)); err != nil {
			s.answerCallback(b, ctx, "Could not lock right now.", true)
			return nil
		}
		return s.editOrReplyCallback(ctx, b, "Admin panel locked.", s.backToMenuKeyboard())

	default:
		s.answerCallback(b, ctx, fmt.Sprintf("Unknown action: %s", data), true)
		return nil
	}
}

func (s *Service) callbackUnlocked(ctx *ext.Context) bool {
	if ctx.EffectiveUser == nil {
		return false
	}
	err := s.gate.Require(context.Background(), userKey(ctx.EffectiveUser.Id))
	if err != nil && !errors.Is(err, admin.ErrLocked) {
		s.logger.Error().Err(err).Msg("admin check failed")
	}
	return err == nil
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
