package scheduling

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type appointmentRepoMemory struct {
	mu     sync.RWMutex
	byID   map[string]*Appointment
	active map[string]string // slot key -> appointment ID
}

// NewAppointmentRepoMemory returns a process-local store, used when no
// database is configured.
func NewAppointmentRepoMemory() AppointmentRepository {
	return &appointmentRepoMemory{
		byID:   make(map[string]*Appointment),
		active: make(map[string]string),
	}
}

func (r *appointmentRepoMemory) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status.Active() {
		if _, taken := r.active[a.SlotKey()]; taken {
			return ErrSlotConflict
		}
		r.active[a.SlotKey()] = a.ID
	}
	r.byID[a.ID] = a.clone()
	return nil
}

func (r *appointmentRepoMemory) GetByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

func (r *appointmentRepoMemory) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byID[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status.Active() {
		if holder, taken := r.active[a.SlotKey()]; taken && holder != a.ID {
			return ErrSlotConflict
		}
	}
	if prev.Status.Active() && r.active[prev.SlotKey()] == a.ID {
		delete(r.active, prev.SlotKey())
	}
	if a.Status.Active() {
		r.active[a.SlotKey()] = a.ID
	}
	r.byID[a.ID] = a.clone()
	return nil
}

func (r *appointmentRepoMemory) FindActiveBySlot(_ context.Context, date, tod string, duration int) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[SlotKey(date, tod, duration)]
	if !ok {
		return nil, nil
	}
	return r.byID[id].clone(), nil
}

func (r *appointmentRepoMemory) ListByDateRange(_ context.Context, start, end string, limit, offset int) ([]*Appointment, int, error) {
	r.mu.RLock()
	var matched []*Appointment
	for _, a := range r.byID {
		// ISO dates compare correctly as strings.
		if a.Date >= start && a.Date <= end {
			matched = append(matched, a.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date < matched[j].Date
		}
		if matched[i].Time != matched[j].Time {
			return matched[i].Time < matched[j].Time
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *appointmentRepoMemory) Stats(_ context.Context, today string) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := newStats()
	for _, a := range r.byID {
		st.Total++
		st.ByStatus[a.Status]++
		st.ByConsultationType[a.ConsultationType]++
		if a.IsFirstConsultation {
			st.FirstConsultations++
		}
		if a.Status.Active() && a.Date >= today {
			st.Upcoming++
		}
	}
	return st, nil
}
