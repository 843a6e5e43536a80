package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"campusbot/internal/conversation"
	"campusbot/internal/queue"
)

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Commands:",
		"/help",
		"/menu",
		"/ask <question> (or just send a message in private chat)",
		"/events [date] - events for today or a YYYY-MM-DD date",
		"/voices",
		"Operator:",
		"/unlock <secret>, /lock",
		"/dna - show the current Bot DNA",
		"/voice <id|none>",
		"/feedback <text> - let the Optimizer AI rewrite the Bot DNA",
		"/event_add <date|today> <name> | <venue> | <time>",
		"/event_add [date] - step-by-step in private chat",
		"/event_del <date|today> <number>",
		"/cancel - stop the event wizard",
	}, "\n")
	return s.reply(ctx, b, text)
}

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	if err := s.reply(ctx, b, conversation.Greeting); err != nil {
		return err
	}
	return s.sendMainMenu(ctx, b)
}

func (s *Service) ask(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	text := strings.TrimSpace(commandRemainder(msg.GetText()))
	if text == "" {
		return s.reply(ctx, b, "Usage: /ask <question>")
	}
	return s.enqueueTurn(b, ctx, text)
}

// privateText feeds the event wizard when one is active, otherwise treats
// the message as a question.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveUser == nil {
		return nil
	}
	text := strings.TrimSpace(msg.GetText())
	if text == "" {
		return nil
	}

	state, err := s.wizard.Get(context.Background(), ctx.EffectiveUser.Id)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read wizard state")
	}
	if state != nil {
		return s.wizardStep(b, ctx, state, text)
	}
	return s.enqueueTurn(b, ctx, text)
}

func (s *Service) enqueueTurn(b *gotgbot.Bot, ctx *ext.Context, text string) error {
	chatID := ctx.EffectiveChat.Id
	uid := userID(ctx)
	if !s.allowRate(uid, b, ctx) {
		return nil
	}

	_, err := s.queue.Enqueue(context.Background(), queue.TurnJob{
		Session:   chatSession(chatID),
		ChatID:    chatID,
		UserID:    uid,
		MessageID: ctx.EffectiveMessage.MessageId,
		Text:      text,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to enqueue turn")
		return s.reply(ctx, b, "Sorry, I can't take questions right now. Please try again later.")
	}
	s.metrics.EnqueuedJobs.Inc()
	_, _ = b.SendChatAction(chatID, "typing", nil)
	return nil
}

func (s *Service) allowRate(uid int64, b *gotgbot.Bot, ctx *ext.Context) bool {
	if uid == 0 || s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(context.Background(), userKey(uid), time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	_ = s.reply(ctx, b, "You've asked a lot of questions this hour. Try again after "+resetAt.In(s.location).Format("15:04"))
	return false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
