package telegram

import (
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const (
	cbPrefix = "cb:"

	cbMenu        = cbPrefix + "menu"
	cbHowAsk      = cbPrefix + "how_ask"
	cbEventsToday = cbPrefix + "events_today"
	cbVoices      = cbPrefix + "voices"
	cbAdminHelp   = cbPrefix + "admin_help"
	cbShowDNA     = cbPrefix + "show_dna"
	cbLock        = cbPrefix + "lock"
)

func (s *Service) menu(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.sendMainMenu(ctx, b)
}

func (s *Service) sendMainMenu(ctx *ext.Context, b *gotgbot.Bot) error {
	return s.replyWithMarkup(ctx, b, s.mainMenuText(), s.mainMenuKeyboard())
}

func (s *Service) mainMenuText() string {
	return strings.Join([]string{
		"Campus assistant",
		"",
		"Ask where any campus location is, or what's happening today.",
		"In private chat just send your question; in groups use /ask <question>.",
		"",
		"/events - today's events",
		"/voices - available voices",
		"/help - all commands",
	}, "\n")
}

func (s *Service) askUsageText() string {
	return strings.Join([]string{
		"How to ask",
		"",
		"Questions about campus locations and today's events are answered from campus data.",
		"Questions starting with \"search for\", \"what is\", \"who is\", \"when did\", \"google\" or \"tell me about\" may use web search.",
		"",
		"One question at a time: wait for the answer before asking the next.",
	}, "\n")
}

func (s *Service) adminHelpText() string {
	return strings.Join([]string{
		"Operator quick reference",
		"",
		"/unlock <secret> (private chat), /lock",
		"/dna",
		"/voice <id|none>",
		"/feedback <text>",
		"/events [date]",
		"/event_add <date|today> <name> | <venue> | <time>",
		"/event_add [date] for a step-by-step wizard",
		"/event_del <date|today> <number>",
	}, "\n")
}

func (s *Service) mainMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "How to ask", CallbackData: cbHowAsk},
			{Text: "Today's events", CallbackData: cbEventsToday},
		},
		{
			{Text: "Voices", CallbackData: cbVoices},
			{Text: "Operator help", CallbackData: cbAdminHelp},
		},
		{
			{Text: "Refresh", CallbackData: cbMenu},
		},
	}}
}

func (s *Service) adminKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Show Bot DNA", CallbackData: cbShowDNA},
			{Text: "Today's events", CallbackData: cbEventsToday},
		},
		{
			{Text: "Operator help", CallbackData: cbAdminHelp},
			{Text: "Lock", CallbackData: cbLock},
		},
	}}
}

func (s *Service) backToMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Back to menu", CallbackData: cbMenu}},
	}}
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}
