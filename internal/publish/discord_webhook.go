package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxDiscordContent is Discord's message length limit.
const maxDiscordContent = 2000

// DiscordWebhook posts final segments to a Discord webhook.
type DiscordWebhook struct {
	webhookURL string
	log        zerolog.Logger
	client     *http.Client
}

// NewDiscordWebhook creates a webhook sink. If webhookURL is empty,
// segments are silently skipped.
func NewDiscordWebhook(webhookURL string, log zerolog.Logger) *DiscordWebhook {
	return &DiscordWebhook{
		webhookURL: webhookURL,
		log:        log.With().Str("component", "discord_webhook").Logger(),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *DiscordWebhook) Enabled() bool {
	return d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Publish posts the segment asynchronously.
// Errors are logged but don't affect caller.
func (d *DiscordWebhook) Publish(ctx context.Context, seg Segment) error {
	if !d.Enabled() || !seg.Final {
		return nil
	}

	msg := discordMessage{
		Content:  formatSegment(seg),
		Username: "captions " + seg.Room,
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.log.Error().Err(err).Msg("discord: failed to marshal message")
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.log.Error().Err(err).Msg("discord: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.log.Warn().Err(err).Msg("discord: failed to send webhook")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.log.Warn().Int("status", resp.StatusCode).Msg("discord: webhook returned error status")
		}
	}()
	return nil
}

func formatSegment(seg Segment) string {
	s := fmt.Sprintf("[%s] %s", seg.Language, seg.Text)
	if r := []rune(s); len(r) > maxDiscordContent {
		s = string(r[:maxDiscordContent-1]) + "…"
	}
	return s
}
