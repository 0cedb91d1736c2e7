// Package webhook provides outgoing webhook notification delivery for
// coordinator events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
)

const deliveryTimeout = 10 * time.Second

// Notifier sends outgoing webhook notifications for coordinator events.
// Endpoints can be swapped at runtime when the configuration is reloaded.
type Notifier struct {
	mu         sync.RWMutex
	endpoints  []events.WebhookEndpoint
	client     *http.Client
	deadLetter *DeadLetterStore
}

// NewNotifier creates a notifier with the given endpoints and dead letter store.
func NewNotifier(endpoints []events.WebhookEndpoint, deadLetter *DeadLetterStore) *Notifier {
	return &Notifier{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: deliveryTimeout,
		},
		deadLetter: deadLetter,
	}
}

// SetEndpoints replaces the endpoint set. In-flight deliveries keep their
// original endpoint.
func (n *Notifier) SetEndpoints(endpoints []events.WebhookEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints = endpoints
}

// Attach subscribes the notifier to the dispatcher for the event types worth
// telling the outside world about.
func (n *Notifier) Attach(dispatcher *events.Dispatcher) {
	dispatcher.RegisterHandler("webhook-notifier", func(ctx context.Context, event events.DomainEvent) error {
		n.Notify(ctx, event)
		return nil
	},
		events.EventTypeDefectCreated,
		events.EventTypeStoryClosed,
		events.EventTypeReleaseClosed,
	)
}

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notify sends an event to all matching webhook endpoints. Delivery runs in
// the background; the caller is never blocked on a slow endpoint.
func (n *Notifier) Notify(ctx context.Context, event events.DomainEvent) {
	payload := Payload{
		EventType: event.EventType(),
		Timestamp: event.OccurredAt(),
		Data:      event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	n.mu.RLock()
	endpoints := n.endpoints
	n.mu.RUnlock()

	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		if !n.matchesFilter(ep, event.EventType()) {
			continue
		}
		go n.deliver(ctx, ep, event.EventType(), body)
	}
}

func (n *Notifier) matchesFilter(ep events.WebhookEndpoint, eventType string) bool {
	if len(ep.EventFilters) == 0 {
		return true
	}
	for _, f := range ep.EventFilters {
		if f == eventType {
			return true
		}
	}
	return false
}

func (n *Notifier) deliver(ctx context.Context, ep events.WebhookEndpoint, eventType string, body []byte) {
	maxRetries := ep.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := ep.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	r := retry.New[struct{}](retry.Config{
		MaxAttempts:   maxRetries,
		InitialDelay:  retryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	t := timeout.New[struct{}](timeout.Config{
		DefaultTimeout: deliveryTimeout,
	})

	_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return t.Execute(ctx, deliveryTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.send(ctx, ep, body)
		})
	})
	if err == nil {
		return
	}

	if n.deadLetter != nil {
		dl := events.DeadLetter{
			Timestamp:   time.Now(),
			WebhookName: ep.Name,
			URL:         ep.URL,
			EventType:   eventType,
			Payload:     string(body),
			Error:       err.Error(),
			Attempts:    maxRetries,
		}
		_ = n.deadLetter.Append(dl)
	}
}

func (n *Notifier) send(ctx context.Context, ep events.WebhookEndpoint, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Testdeck-Webhook/1.0")

	if ep.Secret != "" {
		sig := sign(body, ep.Secret)
		req.Header.Set("X-Testdeck-Signature", sig)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// sign computes HMAC-SHA256 of the payload using the secret.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
