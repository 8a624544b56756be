package factory

import (
	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/notify"
)

// NewNotifier returns a dispatcher posting to the configured webhook, or
// logging events when no webhook is set.
func NewNotifier(cfg *config.Config, log zerolog.Logger) *notify.Dispatcher {
	var sink notify.Sink = notify.LogSink{Log: log.With().Str("component", "notify").Logger()}
	if cfg.NotifyWebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
		log.Info().Str("url", cfg.NotifyWebhookURL).Msg("notify webhook enabled")
	}
	return notify.NewDispatcher(sink, cfg.NotifyBuffer, cfg.NotifyTimeout, log)
}
