package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// completionLookback bounds how far back the completion sweep looks for
// confirmed appointments that were never closed.
const completionLookback = 14

// Reminder delivers the day-before reminder to a patient.
type Reminder interface {
	SendReminder(ctx context.Context, a *Appointment) error
}

// SendDueReminders reminds every patient with a confirmed appointment
// tomorrow who has not been reminded yet. A failed send is logged and
// retried on the next run. It returns the number of reminders sent.
func (m *AppointmentManager) SendDueReminders(ctx context.Context, r Reminder) (int, error) {
	now := m.now().In(m.loc)
	tomorrow := FormatDate(StartOfDay(now).AddDate(0, 0, 1))

	due, err := m.ActiveAppointments(ctx, tomorrow, tomorrow)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, a := range due {
		if a.Status != StatusConfirmed || a.ReminderSentAt != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ok, err := m.remind(ctx, a.ID, r)
		if err != nil {
			m.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("reminder not sent")
			errs = append(errs, err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

// remind sends one reminder while holding the appointment lock, so runs that
// overlap within or across instances never email the same patient twice.
// It reports false when another run got there first or the appointment is
// no longer confirmed.
func (m *AppointmentManager) remind(ctx context.Context, id string, r Reminder) (bool, error) {
	unlock, err := m.locker.Lock(ctx, appointmentLockKey(id))
	if err != nil {
		return false, fmt.Errorf("lock appointment: %w", err)
	}
	defer unlock()

	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if a.Status != StatusConfirmed || a.ReminderSentAt != nil {
		return false, nil
	}
	if err := r.SendReminder(ctx, a); err != nil {
		return false, err
	}

	at := m.now().UTC()
	a.ReminderSentAt = &at
	a.UpdatedAt = at
	if err := m.repo.Update(context.WithoutCancel(ctx), a); err != nil {
		return false, fmt.Errorf("record reminder: %w", err)
	}
	return true, nil
}

// CompletePastAppointments marks confirmed appointments whose end time has
// passed as completed. It returns how many were closed.
func (m *AppointmentManager) CompletePastAppointments(ctx context.Context) (int, error) {
	now := m.now().In(m.loc)
	today := StartOfDay(now)

	candidates, err := m.ActiveAppointments(ctx,
		FormatDate(today.AddDate(0, 0, -completionLookback)), FormatDate(today))
	if err != nil {
		return 0, err
	}

	done := 0
	var errs []error
	for _, a := range candidates {
		if a.Status != StatusConfirmed || !ended(a, now, m.loc) {
			continue
		}
		if _, err := m.CompleteAppointment(ctx, a.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func ended(a *Appointment, now time.Time, loc *time.Location) bool {
	end, err := a.End(loc)
	return err == nil && !end.After(now)
}
