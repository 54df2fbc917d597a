// Package crm records contact events (bookings, rollbacks) and forwards them
// to an external CRM webhook with an HMAC-SHA256 signature. Delivery is
// best-effort: failures are logged, never returned to the booking flow.
package crm

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SignatureHeader carries "sha256=<hex>" of the request body.
const SignatureHeader = "X-Webhook-Signature"

// maxKept bounds the in-memory event and delivery logs.
const maxKept = 1000

// Event is one contact-related occurrence.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Phone      string            `json:"phone,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Delivery is the outcome of forwarding one event.
type Delivery struct {
	EventID      string        `json:"eventId"`
	Status       string        `json:"status"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseBody string        `json:"responseBody,omitempty"`
	Duration     time.Duration `json:"duration"`
	At           time.Time     `json:"at"`
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a hex signature in constant time.
func verifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type Option func(*Logger)

// WithEndpoint forwards events to url, signed with secret. Without it events
// are only kept in memory.
func WithEndpoint(url, secret string) Option {
	return func(l *Logger) {
		l.endpoint = url
		l.secret = secret
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *Logger) { l.client = c }
}

// WithTimeout bounds each background delivery.
func WithTimeout(d time.Duration) Option {
	return func(l *Logger) { l.timeout = d }
}

// Logger keeps recent events and forwards them to the CRM.
type Logger struct {
	logger   zerolog.Logger
	endpoint string
	secret   string
	client   *http.Client
	timeout  time.Duration

	mu         sync.RWMutex
	events     []Event
	deliveries []Delivery
	wg         sync.WaitGroup
}

func NewLogger(logger zerolog.Logger, opts ...Option) *Logger {
	l := &Logger{
		logger:  logger.With().Str("component", "crm").Logger(),
		client:  &http.Client{Timeout: 10 * time.Second},
		timeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Dispatch records evt in the background and returns immediately.
func (l *Logger) Dispatch(evt Event) {
	evt = l.stamp(evt)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error().Str("event_id", evt.ID).Str("panic", fmt.Sprintf("%v", r)).Msg("crm dispatch panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Record(ctx, evt); err != nil {
			l.logger.Warn().Err(err).Str("event_id", evt.ID).Str("type", evt.Type).Msg("crm delivery failed")
		}
	}()
}

// Wait blocks until every dispatched event has been handled.
func (l *Logger) Wait() { l.wg.Wait() }

// Record stores evt and, when an endpoint is configured, forwards it
// synchronously.
func (l *Logger) Record(ctx context.Context, evt Event) error {
	evt = l.stamp(evt)
	l.mu.Lock()
	l.events = appendBounded(l.events, evt)
	l.mu.Unlock()

	if l.endpoint == "" {
		return nil
	}
	d := l.deliver(ctx, evt)
	l.mu.Lock()
	l.deliveries = appendBounded(l.deliveries, d)
	l.mu.Unlock()
	if d.Status != "delivered" {
		return fmt.Errorf("deliver %s: %s", evt.ID, d.Error)
	}
	return nil
}

func (l *Logger) stamp(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return evt
}

func (l *Logger) deliver(ctx context.Context, evt Event) Delivery {
	d := Delivery{EventID: evt.ID, At: time.Now().UTC()}

	payload, err := json.Marshal(evt)
	if err != nil {
		d.Status, d.Error = "failed", err.Error()
		return d
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
	if err != nil {
		d.Status, d.Error = "failed", err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, l.secret))
	req.Header.Set("X-Webhook-Event", evt.Type)
	req.Header.Set("X-Webhook-Timestamp", evt.OccurredAt.Format(time.RFC3339))

	start := time.Now()
	resp, err := l.client.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Status, d.Error = "failed", err.Error()
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	d.ResponseBody = string(body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = "delivered"
	} else {
		d.Status = "failed"
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

// Events returns the recorded events, oldest first.
func (l *Logger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Deliveries returns the recorded delivery attempts, oldest first.
func (l *Logger) Deliveries() []Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Delivery, len(l.deliveries))
	copy(out, l.deliveries)
	return out
}

func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > maxKept {
		s = s[len(s)-maxKept:]
	}
	return s
}
