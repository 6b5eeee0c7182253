package telegram

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog"

	"ottobot/internal/metrics"
	"ottobot/internal/queue"
)

// A restricted bot stays silent for non-allowed users instead of replying.
type Processor struct {
	Base          ext.BaseProcessor
	Dedupe        *queue.UpdateDeduplicator
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	AllowedUserID int64
}

func (p Processor) ProcessUpdate(d *ext.Dispatcher, b *gotgbot.Bot, ctx *ext.Context) error {
	if p.Metrics != nil {
		p.Metrics.UpdatesTotal.Inc()
	}
	if p.AllowedUserID != 0 {
		if ctx.EffectiveUser == nil || ctx.EffectiveUser.Id != p.AllowedUserID {
			return nil
		}
	}
	if p.Dedupe != nil {
		first, err := p.Dedupe.MarkFirst(context.Background(), ctx.UpdateId)
		if err != nil {
			p.Logger.Error().Err(err).Int64("update_id", ctx.UpdateId).Msg("failed to dedupe update")
		} else if !first {
			if p.Metrics != nil {
				p.Metrics.UpdatesDeduped.Inc()
			}
			return nil
		}
	}
	return p.Base.ProcessUpdate(d, b, ctx)
}
