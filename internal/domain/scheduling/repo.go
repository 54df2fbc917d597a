package scheduling

import (
	"context"
	"errors"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotConflict        = errors.New("slot already booked")
)

// AppointmentRepository persists appointments. Implementations must reject,
// with ErrSlotConflict, a write that would leave two active appointments on
// the same date+time+duration.
type AppointmentRepository interface {
	// Create assigns a fresh ID when a.ID is empty.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// FindActiveBySlot returns nil, nil when the slot is free.
	FindActiveBySlot(ctx context.Context, date, tod string, duration int) (*Appointment, error)
	// ListByDateRange covers [start, end] inclusive, ordered by date then
	// time. A limit of 0 returns every match.
	ListByDateRange(ctx context.Context, start, end string, limit, offset int) ([]*Appointment, int, error)
	// Stats counts appointments; today bounds the upcoming count.
	Stats(ctx context.Context, today string) (*Stats, error)
}
