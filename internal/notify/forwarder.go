package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/metrics"
)

// ForwardPayload is the canonical event replicated to external apps.
type ForwardPayload struct {
	ID        string `json:"id"`
	Device    string `json:"device"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// subscriberSource is the slice of the store the forwarder needs.
type subscriberSource interface {
	ActiveSubscribers(ctx context.Context) ([]core.ExternalApp, error)
}

// Forwarder replicates inbound events to registered subscriber endpoints,
// signed per subscriber. Delivery is decoupled from the webhook request by
// an in-process queue; failures are logged once and never retried here.
// Retry policy belongs to the subscriber or an external queue.
type Forwarder struct {
	store  subscriberSource
	client *http.Client
	queue  chan ForwardPayload
}

func NewForwarder(store subscriberSource, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		store:  store,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan ForwardPayload, 256),
	}
}

// Enqueue hands a payload to the delivery loop. A full queue drops the
// payload rather than stalling the webhook path.
func (f *Forwarder) Enqueue(p ForwardPayload) {
	select {
	case f.queue <- p:
	default:
		log.Printf("forwarder: queue full, dropping event %s", p.ID)
		metrics.ForwardTotal.WithLabelValues("dropped").Inc()
	}
}

// Run consumes the queue until the context is canceled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-f.queue:
			f.deliver(ctx, p)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, p ForwardPayload) {
	apps, err := f.store.ActiveSubscribers(ctx)
	if err != nil {
		log.Printf("forwarder: listing subscribers: %v", err)
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		log.Printf("forwarder: marshal: %v", err)
		return
	}
	for _, app := range apps {
		if err := f.post(ctx, app, body); err != nil {
			log.Printf("forwarder: %s -> %s: %v", p.ID, app.Name, err)
			metrics.ForwardTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.ForwardTotal.WithLabelValues("ok").Inc()
	}
}

func (f *Forwarder) post(ctx context.Context, app core.ExternalApp, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *app.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Key", app.AppKey)
	req.Header.Set("X-App-Signature", Sign(body, app.AppSecret))

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &core.VendorError{Provider: "subscriber", Detail: resp.Status}
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the serialized payload with the
// subscriber's shared secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
