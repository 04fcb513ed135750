// Package notify fans the terminal completion event out to
// subscribers. Delivery is best-effort and at most once per job:
// the status store remains the source of truth for polling
// consumers, so a subscriber being down never reopens a job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// Subscriber receives completion events. Implementations must not
// block beyond their own timeouts.
type Subscriber interface {
	Notify(ctx context.Context, event *models.CompletionEvent) error
}

// Notifier fans out one terminal event per job to all current
// subscribers.
type Notifier struct {
	mu        sync.Mutex
	subs      []Subscriber
	delivered map[string]bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{delivered: make(map[string]bool)}
}

// Subscribe registers a subscriber for future events.
func (n *Notifier) Subscribe(s Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, s)
}

// Publish delivers event to every subscriber. Failures are logged as
// NotificationFailure and otherwise ignored; a duplicate publish for
// the same (model, version) is dropped.
func (n *Notifier) Publish(ctx context.Context, event *models.CompletionEvent) {
	key := event.ModelName + "/" + event.Version

	n.mu.Lock()
	if n.delivered[key] {
		n.mu.Unlock()
		return
	}
	n.delivered[key] = true
	subs := make([]Subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		if err := s.Notify(ctx, event); err != nil {
			log.Printf("%s: failed to notify subscriber for %s: %v",
				models.ErrNotification, key, err)
		}
	}
}

// WebhookSubscriber POSTs events to an HTTP endpoint.
type WebhookSubscriber struct {
	URL    string
	client *http.Client
}

// NewWebhookSubscriber creates a webhook subscriber for url.
func NewWebhookSubscriber(url string) *WebhookSubscriber {
	return &WebhookSubscriber{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify POSTs the event as JSON.
func (w *WebhookSubscriber) Notify(ctx context.Context, event *models.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.URL, resp.Status)
	}
	return nil
}

// ChannelSubscriber delivers events to an in-process channel,
// dropping when the receiver lags.
type ChannelSubscriber struct {
	C chan *models.CompletionEvent
}

// NewChannelSubscriber creates a channel subscriber with the given
// buffer.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{C: make(chan *models.CompletionEvent, buffer)}
}

// Notify sends the event without blocking.
func (c *ChannelSubscriber) Notify(_ context.Context, event *models.CompletionEvent) error {
	select {
	case c.C <- event:
		return nil
	default:
		return fmt.Errorf("subscriber channel full, event dropped")
	}
}
