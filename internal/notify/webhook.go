// internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FairForge/arbiter/internal/events"
)

// Delivery statuses
const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

// WebhookConfig configures one webhook endpoint.
type WebhookConfig struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Events       []string          `json:"events"`
	Secret       string            `json:"secret,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Enabled      bool              `json:"enabled"`
	RequireHTTPS bool              `json:"require_https"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Validate checks if the configuration is valid
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return errors.New("webhook: URL is required")
	}

	parsedURL, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("webhook: invalid URL: %w", err)
	}

	if c.RequireHTTPS && parsedURL.Scheme != "https" {
		return errors.New("webhook: HTTPS is required")
	}

	if len(c.Events) == 0 {
		return errors.New("webhook: at least one event is required")
	}

	return nil
}

// MatchesEvent checks if the webhook should receive an event. Patterns
// are exact types, "failover.*" style prefixes, or "*".
func (c *WebhookConfig) MatchesEvent(eventType string) bool {
	for _, e := range c.Events {
		if e == "*" || e == eventType {
			return true
		}
		if strings.HasSuffix(e, ".*") {
			prefix := strings.TrimSuffix(e, ".*")
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}
	return false
}

// Delivery tracks one attempt against one endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	WebhookID  string        `json:"webhook_id"`
	EventID    string        `json:"event_id"`
	Status     string        `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Attempt    int           `json:"attempt"`
	CreatedAt  time.Time     `json:"created_at"`
}

// WebhookerConfig tunes delivery behavior.
type WebhookerConfig struct {
	MaxRetries     int           `json:"max_retries"`
	RetryInterval  time.Duration `json:"retry_interval"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxConcurrent  int           `json:"max_concurrent"`
}

// DefaultWebhookerConfig returns sensible defaults
func DefaultWebhookerConfig() *WebhookerConfig {
	return &WebhookerConfig{
		MaxRetries:     3,
		RetryInterval:  time.Second,
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  20,
	}
}

// Webhooker fans cluster events out to registered HTTP endpoints.
type Webhooker struct {
	config     *WebhookerConfig
	webhooks   map[string]*WebhookConfig
	deliveries map[string][]*Delivery
	httpClient *http.Client
	mu         sync.RWMutex
	sem        chan struct{}
}

// NewWebhooker creates a webhook dispatcher.
func NewWebhooker(config *WebhookerConfig) *Webhooker {
	if config == nil {
		config = DefaultWebhookerConfig()
	}

	return &Webhooker{
		config:     config,
		webhooks:   make(map[string]*WebhookConfig),
		deliveries: make(map[string][]*Delivery),
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		sem: make(chan struct{}, config.MaxConcurrent),
	}
}

// Register adds a webhook endpoint.
func (m *Webhooker) Register(config *WebhookConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.webhooks[config.ID]; exists {
		return fmt.Errorf("webhook: ID %s already exists", config.ID)
	}

	config.Enabled = true
	config.CreatedAt = time.Now().UTC()
	m.webhooks[config.ID] = config

	return nil
}

// Unregister removes a webhook.
func (m *Webhooker) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.webhooks[id]; !exists {
		return fmt.Errorf("webhook: ID %s not found", id)
	}

	delete(m.webhooks, id)
	return nil
}

// Deliveries returns the retained delivery history for one webhook.
func (m *Webhooker) Deliveries(id string) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Delivery, len(m.deliveries[id]))
	copy(out, m.deliveries[id])
	return out
}

// Dispatch sends an event to all matching webhooks asynchronously.
func (m *Webhooker) Dispatch(ctx context.Context, event events.Event) {
	for _, wh := range m.findMatching(event) {
		wh := wh
		go func() {
			m.sem <- struct{}{}
			defer func() { <-m.sem }()
			_ = m.deliver(ctx, wh, event)
		}()
	}
}

// DispatchSync sends an event and waits for every delivery to finish.
func (m *Webhooker) DispatchSync(ctx context.Context, event events.Event) error {
	var lastErr error
	for _, wh := range m.findMatching(event) {
		if err := m.deliver(ctx, wh, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Handler adapts the dispatcher to an event bus subscription.
func (m *Webhooker) Handler() events.Handler {
	return func(ctx context.Context, event events.Event) error {
		return m.DispatchSync(ctx, event)
	}
}

func (m *Webhooker) findMatching(event events.Event) []*WebhookConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*WebhookConfig
	for _, wh := range m.webhooks {
		if !wh.Enabled {
			continue
		}
		if wh.MatchesEvent(string(event.Type)) {
			result = append(result, wh)
		}
	}
	return result
}

// webhookPayload is the wire shape: the event plus delivery metadata.
type webhookPayload struct {
	events.Event
	Attempt int `json:"attempt"`
}

// deliver sends one event to one endpoint with retries.
func (m *Webhooker) deliver(ctx context.Context, wh *WebhookConfig, event events.Event) error {
	payload := &webhookPayload{Event: event}

	var lastErr error
	for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
		payload.Attempt = attempt

		delivery := &Delivery{
			ID:        uuid.New().String(),
			WebhookID: wh.ID,
			EventID:   event.ID,
			Attempt:   attempt,
			CreatedAt: time.Now().UTC(),
		}

		start := time.Now()
		statusCode, err := m.sendRequest(ctx, wh, payload)
		delivery.Duration = time.Since(start)
		delivery.StatusCode = statusCode

		if err == nil && statusCode >= 200 && statusCode < 300 {
			delivery.Status = DeliveryStatusSuccess
			m.recordDelivery(wh.ID, delivery)
			return nil
		}

		delivery.Status = DeliveryStatusFailed
		if err != nil {
			delivery.Error = err.Error()
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", statusCode)
			delivery.Error = lastErr.Error()
		}

		m.recordDelivery(wh.ID, delivery)

		if attempt < m.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.RetryInterval):
			}
		}
	}

	return lastErr
}

// sendRequest sends a single webhook request
func (m *Webhooker) sendRequest(ctx context.Context, wh *WebhookConfig, payload *webhookPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Arbiter-Webhooks/1.0")
	req.Header.Set("X-Webhook-ID", wh.ID)
	req.Header.Set("X-Event-Type", string(payload.Type))
	req.Header.Set("X-Event-ID", payload.ID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", payload.Attempt))

	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", GenerateSignature(body, wh.Secret))
	}

	for key, value := range wh.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, nil
}

// GenerateSignature generates an HMAC-SHA256 signature over the payload.
func GenerateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by GenerateSignature.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := GenerateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// recordDelivery stores a delivery record
func (m *Webhooker) recordDelivery(webhookID string, delivery *Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries[webhookID] = append(m.deliveries[webhookID], delivery)

	// Keep only the last 100 deliveries per webhook
	if len(m.deliveries[webhookID]) > 100 {
		m.deliveries[webhookID] = m.deliveries[webhookID][len(m.deliveries[webhookID])-100:]
	}
}
