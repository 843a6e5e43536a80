package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"campusbot/internal/metrics"
	"campusbot/internal/queue"
)

// Processor counts updates, drops webhook redeliveries and ignores other
// bots before handing the update to the dispatcher.
type Processor struct {
	Base    ext.BaseProcessor
	Dedupe  *queue.UpdateDeduplicator
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if ctx.EffectiveUser != nil && ctx.EffectiveUser.IsBot {
		return nil
	}
	if p.Dedupe != nil {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		first, err := p.Dedupe.MarkFirst(dctx, ctx.UpdateId)
		cancel()
		if err != nil {
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		} else if !first {
			p.Logger.Debug().Int64("update_id", ctx.UpdateId).Msg("duplicate update dropped")
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}
