// Package notify fans trade and guard events out to chat webhooks.
// Delivery is best effort: a dead webhook must never stall or fail a
// trading cycle, so every error path logs and returns false.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"optionsbot/internal/observ"
)

const requestTimeout = 10 * time.Second

type Notifier struct {
	SlackWebhook   string
	DiscordWebhook string
	TelegramToken  string
	TelegramChatID string
	HeartbeatURL   string
	BotName        string

	// Client is overridable for tests; nil means a default client with
	// the package timeout.
	Client *http.Client
}

func (n *Notifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: requestTimeout}
}

// Send pushes one message to every configured channel and reports whether
// at least one delivery succeeded.
func (n *Notifier) Send(event, text string) bool {
	delivered := false
	if n.SlackWebhook != "" {
		delivered = n.postJSON("slack", n.SlackWebhook, map[string]any{"text": text}) || delivered
	}
	if n.DiscordWebhook != "" {
		name := n.BotName
		if name == "" {
			name = "optionsbot"
		}
		delivered = n.postJSON("discord", n.DiscordWebhook, map[string]any{
			"content":  text,
			"username": name,
		}) || delivered
	}
	if n.TelegramToken != "" && n.TelegramChatID != "" {
		endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.TelegramToken)
		delivered = n.postJSON("telegram", endpoint, map[string]any{
			"chat_id": n.TelegramChatID,
			"text":    text,
		}) || delivered
	}
	if delivered {
		observ.IncCounter("notifications_sent_total", map[string]string{"event": event})
	}
	return delivered
}

// Heartbeat pings the liveness URL, if one is configured.
func (n *Notifier) Heartbeat() {
	if n.HeartbeatURL == "" {
		return
	}
	resp, err := n.client().Get(n.HeartbeatURL)
	if err != nil {
		observ.Log("heartbeat_error", map[string]any{"error": err.Error()})
		observ.IncCounter("heartbeat_errors_total", nil)
		return
	}
	resp.Body.Close()
}

func (n *Notifier) postJSON(channel, endpoint string, payload map[string]any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	resp, err := n.client().Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		observ.Log("notify_error", map[string]any{"channel": channel, "error": err.Error()})
		observ.IncCounter("notification_errors_total", map[string]string{"channel": channel})
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observ.Log("notify_error", map[string]any{"channel": channel, "status": resp.StatusCode, "host": hostOf(endpoint)})
		observ.IncCounter("notification_errors_total", map[string]string{"channel": channel})
		return false
	}
	return true
}

// hostOf keeps webhook tokens out of the logs.
func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "unknown"
	}
	return u.Host
}
