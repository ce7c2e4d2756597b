package notifications

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// WebhookNotifier posts structured alerts to an operator-configured
// webhook as a bot-id/event-tagged JSON payload, addressed to an admin
// chat identifier.
type WebhookNotifier struct {
	url    string
	chatID string
	client *http.Client
}

func NewWebhookNotifier(url, chatID string) *WebhookNotifier {
	return &WebhookNotifier{url: url, chatID: chatID, client: &http.Client{Timeout: 5 * time.Second}}
}

type alertPayload struct {
	ChatID  string    `json:"chat_id"`
	BotID   string    `json:"bot_id"`
	Event   string    `json:"event"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notify fires the webhook on a background goroutine. Delivery is
// best-effort; the caller never waits for it or inspects the response.
func (w *WebhookNotifier) Notify(botID string, event Event, symbol, message string) {
	body, err := json.Marshal(alertPayload{
		ChatID:  w.chatID,
		BotID:   botID,
		Event:   string(event),
		Symbol:  symbol,
		Message: message,
		At:      time.Now(),
	})
	if err != nil {
		return
	}
	go func() {
		resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return
		}
		resp.Body.Close()
	}()
}

// NoopNotifier discards every notification; used when the admin channel is
// not configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, Event, string, string) {}
