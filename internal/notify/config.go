package notify

import (
	"context"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// NewFromConfig returns the sinks named in cfg. It returns nil when none are set.
func NewFromConfig(ctx context.Context, cfg config.NotifyConfig) ([]Sink, error) {
	var sinks []Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, cfg.WebhookHeaders))
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, NewSlackSink(cfg.SlackWebhookURL))
	}
	if cfg.SQSQueueURL != "" {
		s, err := NewSQSSink(ctx, cfg.SQSQueueURL, cfg.SQSRegion)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
