// Package notification sends templated emails, keeps a record of every
// attempt and exposes that record over HTTP for the admin dashboard.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotFailed            = errors.New("notification is not in failed status")
)

// Delivery states.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound email.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template IDs used by the booking flow and the reminder job.
const (
	TemplateBookingRequest  = "booking-request"
	TemplateBookingReceived = "booking-received"
	TemplateReminder        = "appointment-reminder"
)

// Template defines a reusable email.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateBookingRequest,
			Name:    "Nouvelle demande de rendez-vous",
			Subject: "Demande de rendez-vous : {{patient_name}} le {{date}} à {{time}}",
			Body: "Nouvelle demande de rendez-vous.\n\n" +
				"Patient : {{patient_name}}\nEmail : {{email}}\nTéléphone : {{phone}}\n" +
				"Date : {{date}} à {{time}} ({{duration}} min)\nType : {{consultation_type}}\n" +
				"Première consultation : {{first_consultation}}\n\nMotif :\n{{reason}}\n\nRéférence : {{appointment_id}}",
		},
		{
			ID:      TemplateBookingReceived,
			Name:    "Accusé de réception",
			Subject: "Votre demande de rendez-vous du {{date}}",
			Body: "Bonjour {{patient_name}},\n\n" +
				"Votre demande de rendez-vous du {{date}} à {{time}} ({{duration}} min, {{consultation_type}}) a bien été enregistrée.\n" +
				"Pour toute modification, merci de répondre à ce message.\n\nRéférence : {{appointment_id}}",
		},
		{
			ID:      TemplateReminder,
			Name:    "Rappel de rendez-vous",
			Subject: "Rappel : rendez-vous demain à {{time}}",
			Body: "Bonjour {{patient_name}},\n\n" +
				"Nous vous rappelons votre rendez-vous du {{date}} à {{time}} ({{duration}} min, {{consultation_type}}).\n" +
				"En cas d'empêchement, merci de prévenir au moins 24 heures à l'avance.",
		},
	}
	for _, t := range builtIn {
		e.registerTemplate(t)
	}
}

// registerTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) registerTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double and development default)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records calls instead of sending. Setting ShouldFail makes
// every call return FailError.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager sends notifications and keeps them in memory for inspection.
type Manager struct {
	sender        EmailSender
	templates     *TemplateEngine
	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewManager constructs a Manager.
func NewManager(sender EmailSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		sender:        sender,
		templates:     tpl,
		notifications: make(map[string]*Notification),
	}
}

// Send delivers n, assigns an ID and timestamps, and stores the outcome. The
// send error is returned as is.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	err := m.attempt(ctx, n)

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()
	return err
}

func (m *Manager) attempt(ctx context.Context, n *Notification) error {
	n.Attempts++
	if err := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body); err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return err
	}
	n.Status = StatusSent
	n.Error = ""
	sentAt := time.Now().UTC()
	n.SentAt = &sentAt
	return nil
}

// SendFromTemplate renders a template and sends the resulting email.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

// GetNotification retrieves a notification by ID.
func (m *Manager) GetNotification(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

// List returns notifications newest first, optionally filtered by status.
func (m *Manager) List(_ context.Context, status string, limit int) []*Notification {
	m.mu.RLock()
	out := make([]*Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if status == "" || n.Status == status {
			cp := *n
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, n.Status)
	}
	return m.attempt(ctx, n)
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the notification log to administrators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers the notification routes on an admin group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleList handles GET /notifications?status=failed.
func (h *Handler) HandleList(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.List(c.Request().Context(), c.QueryParam("status"), 100))
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.GetNotification(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Retry(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, ErrNotFailed) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	n, _ := h.manager.GetNotification(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}
