package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/praxisllmlab/copydesk/internal/batch"
)

// SlackSink posts one message per flush to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, ns []Notification) error {
	body, err := json.Marshal(map[string]string{"text": slackText(ns)})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return postJSON(ctx, s.client, s.webhookURL, nil, body)
}

func slackText(ns []Notification) string {
	var b strings.Builder
	for i, n := range ns {
		if i > 0 {
			b.WriteByte('\n')
		}
		icon := ":white_check_mark:"
		if n.State != string(batch.StateCompleted) {
			icon = ":x:"
		}
		fmt.Fprintf(&b, "%s batch `%s` for *%s* %s: %d/%d succeeded", icon, n.BatchID, n.SessionKey, n.State, n.Succeeded, n.Total)
		if n.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", n.Failed)
		}
		if n.Error != "" {
			fmt.Fprintf(&b, " (%s)", n.Error)
		}
		if n.ExportURL != "" {
			fmt.Fprintf(&b, " <%s|export>", n.ExportURL)
		}
	}
	return b.String()
}
