package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"live-auction/utils"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"

	// WildcardEvent subscribes to every event type
	WildcardEvent Type = "*"
)

var ErrQueueFull = errors.New("webhook queue full")

// DefaultBackoff is the wait before the 2nd, 3rd and 4th attempt
var DefaultBackoff = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// Subscription routes one event type to one endpoint. When UserID is set only
// events addressed to that user are delivered.
type Subscription struct {
	Event  Type
	URL    string
	Secret string
	UserID string
}

func (s Subscription) matches(e Event) bool {
	if s.Event != WildcardEvent && s.Event != e.Type {
		return false
	}
	return s.UserID == "" || s.UserID == e.UserID
}

// DispatcherOptions tunes delivery
type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     []time.Duration
	Timeout     time.Duration
}

type delivery struct {
	sub   Subscription
	event Event
	body  []byte
}

// WebhookDispatcher is a Publisher delivering events to HTTP endpoints from a
// bounded queue. Delivery is at-least-once up to MaxAttempts.
type WebhookDispatcher struct {
	subs    []Subscription
	client  *resty.Client
	queue   chan delivery
	workers int

	mu      sync.Mutex
	dropped int
}

// NewWebhookDispatcher creates a dispatcher. Call Run to start delivering.
func NewWebhookDispatcher(opts DispatcherOptions, subs []Subscription) *WebhookDispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = len(DefaultBackoff)
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	backoff := opts.Backoff
	minWait, maxWait := backoff[0], backoff[0]
	for _, b := range backoff {
		minWait = min(minWait, b)
		maxWait = max(maxWait, b)
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxAttempts-1).
		SetRetryWaitTime(minWait).
		SetRetryMaxWaitTime(maxWait).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			attempt := 1
			if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
				attempt = resp.Request.Attempt
			}
			return backoff[min(attempt-1, len(backoff)-1)], nil
		}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &WebhookDispatcher{
		subs:    subs,
		client:  client,
		queue:   make(chan delivery, opts.QueueSize),
		workers: opts.Workers,
	}
}

// Publish enqueues the event for every matching subscription without
// blocking. Deliveries that find the queue full are dropped and reported
// together as one ErrQueueFull.
func (d *WebhookDispatcher) Publish(_ context.Context, e Event) error {
	var body []byte
	matched, dropped := 0, 0
	for _, sub := range d.subs {
		if !sub.matches(e) {
			continue
		}
		if body == nil {
			var err error
			if body, err = json.Marshal(e); err != nil {
				return fmt.Errorf("webhook: marshal %s: %w", e.Type, err)
			}
		}

		matched++
		select {
		case d.queue <- delivery{sub: sub, event: e, body: body}:
		default:
			dropped++
			utils.Warn("webhook: queue full, dropping event", map[string]any{
				"component": "webhooks",
				"event":     string(e.Type),
				"event_id":  e.ID,
				"url":       sub.URL,
			})
		}
	}
	if dropped == 0 {
		return nil
	}

	d.mu.Lock()
	d.dropped += dropped
	d.mu.Unlock()
	return fmt.Errorf("webhook: %w - dropped %d of %d deliveries for %s", ErrQueueFull, dropped, matched, e.Type)
}

// Run delivers queued events until ctx is cancelled
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case dl := <-d.queue:
					if err := d.deliver(ctx, dl); err != nil {
						utils.Error("webhook: delivery failed", map[string]any{
							"component": "webhooks",
							"event":     string(dl.event.Type),
							"event_id":  dl.event.ID,
							"url":       dl.sub.URL,
							"error":     err.Error(),
						})
					}
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Dropped returns the number of events discarded because the queue was full
func (d *WebhookDispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *WebhookDispatcher) deliver(ctx context.Context, dl delivery) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader(HeaderEvent, string(dl.event.Type)).
		SetHeader(HeaderID, dl.event.ID).
		SetHeader(HeaderSignature, Sign(dl.body, dl.sub.Secret)).
		SetBody(dl.body).
		Post(dl.sub.URL)
	if err != nil {
		return fmt.Errorf("post %s: %w", dl.event.Type, err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("post %s: status %d after %d attempt(s)", dl.event.Type, resp.StatusCode(), resp.Request.Attempt)
	}

	utils.Debug("webhook: delivered", map[string]any{
		"component": "webhooks",
		"event":     string(dl.event.Type),
		"event_id":  dl.event.ID,
		"attempts":  resp.Request.Attempt,
	})
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
