package notification

import (
	"context"
	"log"
	"time"
)

// WebhookNotifier posts each alert as a JSON document to a URL.
type WebhookNotifier struct {
	url    string
	poster jsonPoster
	now    func() time.Time
}

// NewWebhookNotifier posts to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, poster: newJSONPoster("webhook"), now: time.Now}
}

type webhookPayload struct {
	Alert
	Source string `json:"source"`
	TS     string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{Alert: alert, Source: "patternpilot", TS: w.now().UTC().Format(time.RFC3339Nano)}
	if err := w.poster.post(ctx, w.url, payload); err != nil {
		return err
	}
	log.Printf("[webhook] delivered %q", alert.Title)
	return nil
}
