package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cabinet/booking/internal/platform/crm"
)

// ErrNotificationFailed means the booking was rolled back because the
// practice could not be notified. The patient may resubmit.
var ErrNotificationFailed = errors.New("booking notification failed")

// Notifier delivers the booking request to the practice.
type Notifier interface {
	SendBookingRequest(ctx context.Context, a *Appointment) error
}

// ContactLogger records booking events on a best-effort basis. Dispatch
// must not block and its failures never reach the caller.
type ContactLogger interface {
	Dispatch(evt crm.Event)
}

// CRM event types emitted by the booking flow.
const (
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingRolledBack = "booking.rolled_back"
)

// BookingResult is returned to the booking form.
type BookingResult struct {
	AppointmentID string `json:"appointmentId"`
	Status        Status `json:"status"`
}

// BookingService runs the full booking flow: validate, create, notify, then
// confirm or roll back.
type BookingService struct {
	validator *Validator
	manager   *AppointmentManager
	notifier  Notifier
	contacts  ContactLogger
	logger    zerolog.Logger
}

func NewBookingService(v *Validator, m *AppointmentManager, n Notifier, c ContactLogger, logger zerolog.Logger) *BookingService {
	return &BookingService{
		validator: v,
		manager:   m,
		notifier:  n,
		contacts:  c,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// Book returns *ValidationError for rule violations, ErrSlotConflict when the
// slot is taken and ErrNotificationFailed after a rollback.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if errs := req.Check(); len(errs) > 0 {
		// Business rules are still evaluated so the form gets every problem at once.
		errs = append(errs, s.validator.Validate(req).Errors...)
		return nil, &ValidationError{Errors: errs}
	}
	if err := s.validator.Validate(req).Err(); err != nil {
		return nil, err
	}

	appt, err := s.manager.CreateAppointment(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.notifier.SendBookingRequest(ctx, appt); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("booking notification failed, rolling back")
		s.rollback(ctx, appt)
		return nil, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	// The practice has been notified at this point, so the outcome must be
	// recorded even when the request context is already done.
	confirmed, err := s.manager.ConfirmAppointment(context.WithoutCancel(ctx), appt.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("confirmation failed, rolling back")
		s.rollback(ctx, appt)
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}
	s.contacts.Dispatch(contactEvent(EventBookingConfirmed, confirmed))

	return &BookingResult{AppointmentID: confirmed.ID, Status: confirmed.Status}, nil
}

// rollback cancels a booking that could not complete, freeing its slot.
func (s *BookingService) rollback(ctx context.Context, appt *Appointment) {
	if _, err := s.manager.CancelAppointment(context.WithoutCancel(ctx), appt.ID); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("rollback failed")
	}
	appt.Status = StatusCancelled
	s.contacts.Dispatch(contactEvent(EventBookingRolledBack, appt))
}

func contactEvent(kind string, a *Appointment) crm.Event {
	return crm.Event{
		Type:  kind,
		Email: a.Email,
		Name:  a.FullName(),
		Phone: a.Phone,
		Data: map[string]string{
			"appointment_id":    a.ID,
			"date":              a.Date,
			"time":              a.Time,
			"duration":          fmt.Sprint(a.Duration),
			"consultation_type": string(a.ConsultationType),
			"status":            string(a.Status),
		},
	}
}
