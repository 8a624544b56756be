package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// WebhookSink posts each event as JSON to a fixed URL.
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink builds a sink for url. Per-request deadlines come from the
// dispatcher context; timeout caps the whole exchange.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &WebhookSink{client: c, url: url}
}

func (s *WebhookSink) Deliver(ctx context.Context, evt Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&evt).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// LogSink writes events to a logger. It is the default when no webhook is
// configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, evt Event) error {
	s.Log.Info().
		Str("kind", string(evt.Kind)).
		Str("subject_id", evt.SubjectID).
		Str("domain", evt.Domain).
		Str("query", evt.Query).
		Str("url", evt.URL).
		Time("at", evt.At).
		Msg("notify")
	return nil
}
