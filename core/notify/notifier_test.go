package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

func event(version string) *models.CompletionEvent {
	return &models.CompletionEvent{
		ModelName:      "demo",
		Version:        version,
		Status:         models.StatusSucceeded,
		Timestamp:      time.Now(),
		ArtifactPrefix: "models/demo/" + version,
	}
}

func TestNotifier_WebhookFanOut(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev models.CompletionEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "demo", ev.ModelName)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier()
	n.Subscribe(NewWebhookSubscriber(server.URL))
	n.Subscribe(NewWebhookSubscriber(server.URL))

	n.Publish(context.Background(), event("1.0.1"))
	assert.Equal(t, int32(2), received.Load())
}

func TestNotifier_AtMostOncePerJob(t *testing.T) {
	n := NewNotifier()
	sub := NewChannelSubscriber(4)
	n.Subscribe(sub)

	n.Publish(context.Background(), event("1.0.1"))
	n.Publish(context.Background(), event("1.0.1")) // duplicate delivery replay
	n.Publish(context.Background(), event("1.0.2"))

	assert.Len(t, sub.C, 2)
}

func TestNotifier_SubscriberFailureIsNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	healthy := NewChannelSubscriber(1)

	n := NewNotifier()
	n.Subscribe(NewWebhookSubscriber(server.URL))
	n.Subscribe(healthy)

	// The failing webhook must not prevent delivery to the rest.
	n.Publish(context.Background(), event("1.0.1"))
	assert.Len(t, healthy.C, 1)
}
