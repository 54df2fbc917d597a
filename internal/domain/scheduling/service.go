package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cabinet/booking/internal/platform/slotlock"
)

var (
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidConsultationType = errors.New("unknown consultation type")
)

type ManagerOption func(*AppointmentManager)

// WithManagerClock replaces time.Now for timestamps and the stats cut-off.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *AppointmentManager) { m.now = now }
}

func WithManagerLocation(loc *time.Location) ManagerOption {
	return func(m *AppointmentManager) { m.loc = loc }
}

// WithSlotRules makes UpdateAppointment hold a moved appointment to the same
// calendar and business rules as a new booking.
func WithSlotRules(v *Validator) ManagerOption {
	return func(m *AppointmentManager) { m.rules = v }
}

// AppointmentManager owns the appointment lifecycle. It is the only writer
// of Appointment records.
type AppointmentManager struct {
	repo   AppointmentRepository
	locker slotlock.Locker
	logger zerolog.Logger
	now    func() time.Time
	loc    *time.Location
	rules  *Validator
}

func NewAppointmentManager(repo AppointmentRepository, locker slotlock.Locker, logger zerolog.Logger, opts ...ManagerOption) *AppointmentManager {
	m := &AppointmentManager{
		repo:   repo,
		locker: locker,
		logger: logger.With().Str("component", "appointments").Logger(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func slotLockKey(date, tod string, duration int) string {
	return "slot:" + SlotKey(date, tod, duration)
}

func appointmentLockKey(id string) string { return "appointment:" + id }

// CreateAppointment stores a pending appointment for an already validated
// request. It fails with ErrSlotConflict when an active appointment holds
// the same date, time and duration.
func (m *AppointmentManager) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	duration := int(req.Duration)
	unlock, err := m.locker.Lock(ctx, slotLockKey(req.PreferredDate, req.PreferredTime, duration))
	if err != nil {
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	existing, err := m.repo.FindActiveBySlot(ctx, req.PreferredDate, req.PreferredTime, duration)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if existing != nil {
		return nil, ErrSlotConflict
	}

	now := m.now().UTC()
	a := &Appointment{
		FirstName:           strings.TrimSpace(req.FirstName),
		LastName:            strings.TrimSpace(req.LastName),
		Email:               strings.TrimSpace(req.Email),
		Phone:               strings.TrimSpace(req.Phone),
		Date:                req.PreferredDate,
		Time:                req.PreferredTime,
		Duration:            duration,
		ConsultationType:    req.ConsultationType,
		IsFirstConsultation: req.IsFirstConsultation,
		Status:              StatusPending,
		Notes:               strings.TrimSpace(req.Reason),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("store appointment: %w", err)
	}

	m.logger.Info().
		Str("appointment_id", a.ID).
		Str("slot", a.SlotKey()).
		Str("type", string(a.ConsultationType)).
		Msg("appointment created")
	return a, nil
}

// UpdateAppointment merges patch into the appointment and bumps UpdatedAt.
// Status changes must follow the lifecycle. Moving an active appointment to
// another slot is checked against the slot rules, when configured, and for
// conflicts like a new booking; the rules are reported as *ValidationError.
func (m *AppointmentManager) UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) (*Appointment, error) {
	unlock, err := m.locker.Lock(ctx, appointmentLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock appointment: %w", err)
	}
	defer unlock()

	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && *patch.Status != a.Status {
		if !a.Status.CanTransitionTo(*patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, *patch.Status)
		}
		a.Status = *patch.Status
	}
	if patch.ConsultationType != nil {
		if !patch.ConsultationType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidConsultationType, *patch.ConsultationType)
		}
		a.ConsultationType = *patch.ConsultationType
	}
	applyString(&a.FirstName, patch.FirstName)
	applyString(&a.LastName, patch.LastName)
	applyString(&a.Email, patch.Email)
	applyString(&a.Phone, patch.Phone)
	applyString(&a.Notes, patch.Notes)

	if patch.movesSlot() {
		applyString(&a.Date, patch.Date)
		applyString(&a.Time, patch.Time)
		if patch.Duration != nil {
			a.Duration = *patch.Duration
		}
		if _, err := a.Start(m.loc); err != nil {
			return nil, err
		}
		if a.Duration != Duration60 && a.Duration != Duration90 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, a.Duration)
		}
		if m.rules != nil && a.Status.Active() {
			if err := m.rules.Validate(a.slotRequest()).Err(); err != nil {
				return nil, err
			}
		}
		if a.Status.Active() {
			slotUnlock, err := m.locker.Lock(ctx, slotLockKey(a.Date, a.Time, a.Duration))
			if err != nil {
				return nil, fmt.Errorf("lock slot: %w", err)
			}
			defer slotUnlock()
			holder, err := m.repo.FindActiveBySlot(ctx, a.Date, a.Time, a.Duration)
			if err != nil {
				return nil, fmt.Errorf("check slot: %w", err)
			}
			if holder != nil && holder.ID != a.ID {
				return nil, ErrSlotConflict
			}
		}
	} else if patch.ConsultationType != nil && a.ConsultationType == ConsultationDomicile && a.Duration != Duration90 {
		return nil, &ValidationError{Errors: []string{MsgDomicileNeeds90Min}}
	}

	a.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	m.logger.Info().Str("appointment_id", a.ID).Str("status", string(a.Status)).Msg("appointment updated")
	return a, nil
}

func applyString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// CancelAppointment moves an appointment to cancelled, freeing its slot at
// once. Cancelling twice is a no-op; a completed appointment cannot be
// cancelled.
func (m *AppointmentManager) CancelAppointment(ctx context.Context, id string) (*Appointment, error) {
	return m.transition(ctx, id, StatusCancelled)
}

// ConfirmAppointment marks a pending appointment as confirmed.
func (m *AppointmentManager) ConfirmAppointment(ctx context.Context, id string) (*Appointment, error) {
	return m.transition(ctx, id, StatusConfirmed)
}

// CompleteAppointment marks a confirmed appointment as held.
func (m *AppointmentManager) CompleteAppointment(ctx context.Context, id string) (*Appointment, error) {
	return m.transition(ctx, id, StatusCompleted)
}

func (m *AppointmentManager) transition(ctx context.Context, id string, next Status) (*Appointment, error) {
	unlock, err := m.locker.Lock(ctx, appointmentLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock appointment: %w", err)
	}
	defer unlock()

	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == next {
		return a, nil
	}
	if !a.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	prev := a.Status
	a.Status = next
	a.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("appointment_id", a.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("appointment status changed")
	return a, nil
}

func (m *AppointmentManager) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return m.repo.GetByID(ctx, id)
}

// GetAppointmentsByDateRange lists appointments of every status dated within
// [start, end]. A limit of 0 returns them all.
func (m *AppointmentManager) GetAppointmentsByDateRange(ctx context.Context, start, end string, limit, offset int) ([]*Appointment, int, error) {
	if _, err := ParseDate(start, m.loc); err != nil {
		return nil, 0, err
	}
	if _, err := ParseDate(end, m.loc); err != nil {
		return nil, 0, err
	}
	if start > end {
		return nil, 0, ErrInvalidRange
	}
	return m.repo.ListByDateRange(ctx, start, end, limit, offset)
}

// ActiveAppointments returns the pending and confirmed appointments within
// [start, end], for cross-checking generated slots.
func (m *AppointmentManager) ActiveAppointments(ctx context.Context, start, end string) ([]*Appointment, error) {
	all, _, err := m.GetAppointmentsByDateRange(ctx, start, end, 0, 0)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.Status.Active() {
			active = append(active, a)
		}
	}
	return active, nil
}

func (m *AppointmentManager) GetStats(ctx context.Context) (*Stats, error) {
	return m.repo.Stats(ctx, FormatDate(m.now().In(m.loc)))
}
