package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"kycops/internal/registry/models"
	"kycops/pkg/platform/circuit"
)

const secretHeader = "X-N8N-Secret"

// Webhook posts applications to a workflow webhook guarded by a shared secret.
// Consecutive failures open a circuit breaker so a dead endpoint is not hit on
// every submission.
type Webhook struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuit.Breaker
	clock   func() time.Time
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) WebhookOption {
	return func(w *Webhook) {
		if b != nil {
			w.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWebhook returns nil when url is empty.
func NewWebhook(url, secret string, opts ...WebhookOption) *Webhook {
	if url == "" {
		return nil
	}
	w := &Webhook{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: circuit.New("webhook-relay", circuit.WithFailureThreshold(5), circuit.WithCooldown(time.Minute)),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Forward posts rec. Returns ErrCircuitOpen without calling out while the
// breaker is open.
func (w *Webhook) Forward(ctx context.Context, rec *models.Record) error {
	if !w.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := w.post(ctx, rec)
	if err != nil {
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.WarnContext(ctx, "webhook relay circuit opened", "url", w.url)
		}
		return err
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "webhook relay circuit closed", "url", w.url)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, rec *models.Record) error {
	body, err := json.Marshal(Envelope{Event: EventSubmitted, ForwardedAt: w.clock().UTC(), Application: rec})
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, w.secret)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay: webhook responded with %d", resp.StatusCode)
	}
	return nil
}
