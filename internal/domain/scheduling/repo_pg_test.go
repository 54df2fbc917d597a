package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestMapWriteErr(t *testing.T) {
	unique := &pgconn.PgError{Code: uniqueViolation, ConstraintName: activeSlotIndex}
	if err := mapWriteErr(fmt.Errorf("insert: %w", unique)); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("active slot violation = %v, want ErrSlotConflict", err)
	}

	pkey := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "appointments_pkey"}
	if err := mapWriteErr(pkey); errors.Is(err, ErrSlotConflict) || err != error(pkey) {
		t.Errorf("primary key violation = %v, want it passed through", err)
	}

	check := &pgconn.PgError{Code: "23514"}
	if err := mapWriteErr(check); errors.Is(err, ErrSlotConflict) || err != error(check) {
		t.Errorf("check violation = %v, want it passed through", err)
	}
	if err := mapWriteErr(nil); err != nil {
		t.Errorf("mapWriteErr(nil) = %v", err)
	}
}

func TestRepoPG_CreateAndConflict(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	ctx := context.Background()

	a := newAppt("2024-06-10", "10:00", 60, StatusPending)
	a.Phone = "06 12 34 56 78"
	a.Notes = "Première séance"
	a.IsFirstConsultation = true
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SlotKey() != a.SlotKey() || got.Status != StatusPending || got.Notes != a.Notes ||
		!got.IsFirstConsultation || got.ConsultationType != ConsultationCabinet {
		t.Errorf("round trip = %+v, want %+v", got, a)
	}
	if got.ReminderSentAt != nil {
		t.Errorf("ReminderSentAt = %v, want nil", got.ReminderSentAt)
	}

	if err := repo.Create(ctx, newAppt("2024-06-10", "10:00", 60, StatusConfirmed)); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("second active booking err = %v, want ErrSlotConflict", err)
	}
	if err := repo.Create(ctx, newAppt("2024-06-10", "10:00", 90, StatusPending)); err != nil {
		t.Errorf("same start with another duration: %v", err)
	}
	if err := repo.Create(ctx, newAppt("2024-06-10", "10:00", 60, StatusCancelled)); err != nil {
		t.Errorf("cancelled record on a held slot: %v", err)
	}

	dup := newAppt("2024-06-11", "15:00", 60, StatusPending)
	dup.ID = a.ID
	if err := repo.Create(ctx, dup); err == nil || errors.Is(err, ErrSlotConflict) {
		t.Errorf("duplicate id err = %v, want a non-conflict error", err)
	}

	if found, err := repo.FindActiveBySlot(ctx, "2024-06-10", "10:00", 60); err != nil || found == nil || found.ID != a.ID {
		t.Errorf("FindActiveBySlot = %v, %v, want %s", found, err, a.ID)
	}
	if found, err := repo.FindActiveBySlot(ctx, "2024-06-10", "11:00", 60); err != nil || found != nil {
		t.Errorf("FindActiveBySlot on a free slot = %v, %v", found, err)
	}
}

func TestRepoPG_NotFound(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "6f1c1e2a-8a57-4d36-9a3e-2d3b1b0f6a11"} {
		if _, err := repo.GetByID(ctx, id); !errors.Is(err, ErrAppointmentNotFound) {
			t.Errorf("GetByID(%q) err = %v, want ErrAppointmentNotFound", id, err)
		}
	}
	missing := newAppt("2024-06-10", "10:00", 60, StatusPending)
	missing.ID = "6f1c1e2a-8a57-4d36-9a3e-2d3b1b0f6a11"
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("Update err = %v, want ErrAppointmentNotFound", err)
	}
}

func TestRepoPG_CancelThenRebook(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	ctx := context.Background()

	a := newAppt("2024-06-10", "14:00", 60, StatusConfirmed)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a.Status = StatusCancelled
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	b := newAppt("2024-06-10", "14:00", 60, StatusPending)
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("rebook cancelled slot: %v", err)
	}

	a.Status = StatusPending
	if err := repo.Update(ctx, a); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("reactivating onto a held slot err = %v, want ErrSlotConflict", err)
	}

	sent := time.Date(2024, 6, 9, 18, 0, 0, 0, time.UTC)
	b.ReminderSentAt = &sent
	if err := repo.Update(ctx, b); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := repo.GetByID(ctx, b.ID)
	if got.ReminderSentAt == nil || !got.ReminderSentAt.Equal(sent) {
		t.Errorf("ReminderSentAt = %v, want %v", got.ReminderSentAt, sent)
	}
}

func TestRepoPG_ListByDateRange(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	ctx := context.Background()

	slots := []struct {
		date, tod string
		status    Status
	}{
		{"2024-06-12", "09:00", StatusPending},
		{"2024-06-10", "15:00", StatusConfirmed},
		{"2024-06-10", "10:00", StatusCancelled},
		{"2024-06-11", "11:00", StatusCompleted},
		{"2024-06-14", "09:00", StatusPending},
		{"2024-06-20", "09:00", StatusPending},
	}
	for _, s := range slots {
		if err := repo.Create(ctx, newAppt(s.date, s.tod, 60, s.status)); err != nil {
			t.Fatalf("Create %s %s: %v", s.date, s.tod, err)
		}
	}

	all, total, err := repo.ListByDateRange(ctx, "2024-06-10", "2024-06-14", 0, 0)
	if err != nil {
		t.Fatalf("ListByDateRange: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("got %d items, total %d, want 5/5", len(all), total)
	}
	want := []string{"2024-06-10 10:00", "2024-06-10 15:00", "2024-06-11 11:00", "2024-06-12 09:00", "2024-06-14 09:00"}
	for i, w := range want {
		if got := all[i].Date + " " + all[i].Time; got != w {
			t.Errorf("item %d = %s, want %s", i, got, w)
		}
	}

	tests := []struct {
		name          string
		limit, offset int
		wantFirst     string
		wantLen       int
	}{
		{"first page", 2, 0, "2024-06-10 10:00", 2},
		{"second page", 2, 2, "2024-06-11 11:00", 2},
		{"last page", 2, 4, "2024-06-14 09:00", 1},
		{"offset only", 0, 3, "2024-06-12 09:00", 2},
		{"past the end", 2, 10, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, total, err := repo.ListByDateRange(ctx, "2024-06-10", "2024-06-14", tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListByDateRange: %v", err)
			}
			if total != 5 {
				t.Errorf("total = %d, want 5", total)
			}
			if len(page) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(page), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if got := page[0].Date + " " + page[0].Time; got != tt.wantFirst {
					t.Errorf("first = %s, want %s", got, tt.wantFirst)
				}
			}
		})
	}
}

func TestRepoPG_Stats(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	ctx := context.Background()

	first := newAppt("2024-06-10", "10:00", 60, StatusConfirmed)
	first.IsFirstConsultation = true
	home := newAppt("2024-06-11", "10:00", 90, StatusPending)
	home.ConsultationType = ConsultationDomicile
	for _, a := range []*Appointment{
		first,
		home,
		newAppt("2024-06-03", "10:00", 60, StatusCompleted),
		newAppt("2024-06-04", "10:00", 60, StatusPending),
		newAppt("2024-06-12", "10:00", 60, StatusCancelled),
	} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	st, err := repo.Stats(ctx, "2024-06-05")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 5 {
		t.Errorf("Total = %d, want 5", st.Total)
	}
	if st.ByStatus[StatusPending] != 2 || st.ByStatus[StatusConfirmed] != 1 ||
		st.ByStatus[StatusCompleted] != 1 || st.ByStatus[StatusCancelled] != 1 {
		t.Errorf("ByStatus = %v", st.ByStatus)
	}
	if st.ByConsultationType[ConsultationCabinet] != 4 || st.ByConsultationType[ConsultationDomicile] != 1 {
		t.Errorf("ByConsultationType = %v", st.ByConsultationType)
	}
	// Upcoming counts active appointments from today on: the 10th and 11th.
	if st.Upcoming != 2 {
		t.Errorf("Upcoming = %d, want 2", st.Upcoming)
	}
	if st.FirstConsultations != 1 {
		t.Errorf("FirstConsultations = %d, want 1", st.FirstConsultations)
	}
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func TestRepoPG_ConcurrentCreatesWithoutLocks(t *testing.T) {
	repo := NewAppointmentRepoPG(testPool(t))
	m := NewAppointmentManager(repo, noopLocker{}, zerolog.Nop(), WithManagerLocation(paris(t)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateAppointment(context.Background(), validRequest())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("CreateAppointment: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != 7 {
		t.Errorf("wins = %d, conflicts = %d, want 1 and 7", wins, conflicts)
	}
}
