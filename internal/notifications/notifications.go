package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/env"
)

var client *http.Client
var webhookURL string
var initialized bool

var rateMu sync.Mutex
var rateLimit time.Duration
var lastSent time.Time

// Init initializes the notification client.
func Init() {
	if env.Cfg.Notifications.SlackWebhookURL == "" {
		log.Warn().Msg("slack webhook not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	webhookURL = env.Cfg.Notifications.SlackWebhookURL
	rateLimit = time.Duration(env.Cfg.Notifications.RateLimitSec) * time.Second
	initialized = true

	log.Info().Msg("slack notifications initialized")
}

// Send posts message to the configured Slack incoming webhook, silently
// dropping it if a message was sent within the configured rate limit so a
// flapping fault can't spam the channel.
func Send(title, message string) error {
	if !initialized {
		return fmt.Errorf("notifications not initialized")
	}

	rateMu.Lock()
	if !lastSent.IsZero() && time.Since(lastSent) < rateLimit {
		rateMu.Unlock()
		log.Debug().Str("title", title).Msg("notification suppressed by rate limit")
		return nil
	}
	lastSent = time.Now()
	rateMu.Unlock()

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*\n%s", title, message),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("notification sent successfully")

	return nil
}
