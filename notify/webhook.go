/*
Package notify delivers best-effort signals: in-store notification rows,
Discord webhook embeds, and the outbound bank-watcher ping.

PURPOSE:
  Everything in this package runs after the engines' transactions commit
  and is allowed to fail. Failures are logged and dropped; nothing here
  ever propagates an error back into a committed purchase or settlement.

SEE ALSO:
  - engine: Defines the Notifier and BankWatcher interfaces this package
    implements
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// DISCORD WEBHOOK
// =============================================================================

// Embed is a Discord message embed.
type Embed struct {
	Title     string       `json:"title,omitempty"`
	Color     int          `json:"color,omitempty"`
	Fields    []EmbedField `json:"fields,omitempty"`
	Image     *EmbedImage  `json:"image,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

// Webhook posts embeds to a Discord webhook URL. A Webhook with an empty
// URL is valid and silently drops everything.
type Webhook struct {
	url      string
	username string
	client   *http.Client
	log      *zap.Logger
}

// NewWebhook creates a webhook sender. url may be empty to disable.
func NewWebhook(url, username string, log *zap.Logger) *Webhook {
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{
		url:      url,
		username: username,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Send posts an embed. Fire-and-forget: failures are logged and dropped.
func (w *Webhook) Send(ctx context.Context, embed Embed) {
	if w.url == "" {
		return
	}
	embed.Timestamp = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(webhookPayload{Username: w.username, Embeds: []Embed{embed}})
	if err != nil {
		w.log.Warn("webhook payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.Warn("webhook rejected", zap.Int("status", resp.StatusCode))
	}
}

// formatMinor renders a minor-unit amount with thousands separators for
// embed fields.
func formatMinor(v int64) string {
	s := fmt.Sprintf("%d", v)
	if v < 0 {
		return "-" + formatMinor(-v)
	}
	out := ""
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out += ","
		}
		out += string(r)
	}
	return out
}
