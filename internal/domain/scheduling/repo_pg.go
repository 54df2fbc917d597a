package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"
	// activeSlotIndex is the partial unique index allowing one pending or
	// confirmed appointment per slot.
	activeSlotIndex = "idx_appointments_active_slot"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id::text, first_name, last_name, email, phone,
	to_char(appointment_date, 'YYYY-MM-DD'), start_time, duration_minutes,
	consultation_type, is_first_consultation, status, notes,
	reminder_sent_at, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var ctype, status string
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Phone,
		&a.Date, &a.Time, &a.Duration,
		&ctype, &a.IsFirstConsultation, &status, &a.Notes,
		&a.ReminderSentAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ConsultationType = ConsultationType(ctype)
	a.Status = Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("appointment id: %w", err)
	}
	date, err := time.Parse(DateLayout, a.Date)
	if err != nil {
		return fmt.Errorf("appointment date: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments (id, first_name, last_name, email, phone,
			appointment_date, start_time, duration_minutes, consultation_type,
			is_first_consultation, status, notes, reminder_sent_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		id, a.FirstName, a.LastName, a.Email, a.Phone,
		date, a.Time, a.Duration, string(a.ConsultationType),
		a.IsFirstConsultation, string(a.Status), a.Notes, a.ReminderSentAt, a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrAppointmentNotFound
	}
	a, err := r.scanAppointment(r.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	uid, err := uuid.Parse(a.ID)
	if err != nil {
		return ErrAppointmentNotFound
	}
	date, err := time.Parse(DateLayout, a.Date)
	if err != nil {
		return fmt.Errorf("appointment date: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET first_name=$2, last_name=$3, email=$4, phone=$5,
			appointment_date=$6, start_time=$7, duration_minutes=$8, consultation_type=$9,
			is_first_consultation=$10, status=$11, notes=$12, reminder_sent_at=$13, updated_at=$14
		WHERE id = $1`,
		uid, a.FirstName, a.LastName, a.Email, a.Phone,
		date, a.Time, a.Duration, string(a.ConsultationType),
		a.IsFirstConsultation, string(a.Status), a.Notes, a.ReminderSentAt, a.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoPG) FindActiveBySlot(ctx context.Context, date, tod string, duration int) (*Appointment, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("slot date: %w", err)
	}
	a, err := r.scanAppointment(r.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE appointment_date = $1 AND start_time = $2 AND duration_minutes = $3
			AND status IN ('pending', 'confirmed')`, d, tod, duration))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *appointmentRepoPG) ListByDateRange(ctx context.Context, start, end string, limit, offset int) ([]*Appointment, int, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, 0, fmt.Errorf("range start: %w", err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, 0, fmt.Errorf("range end: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE appointment_date BETWEEN $1 AND $2`, s, e).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments WHERE appointment_date BETWEEN $1 AND $2
		ORDER BY appointment_date, start_time, created_at`
	args := []interface{}{s, e}
	if limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` OFFSET $3`
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) Stats(ctx context.Context, today string) (*Stats, error) {
	t, err := time.Parse(DateLayout, today)
	if err != nil {
		return nil, fmt.Errorf("stats date: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT status, consultation_type, is_first_consultation,
			(status IN ('pending', 'confirmed') AND appointment_date >= $1) AS upcoming,
			COUNT(*)
		FROM appointments
		GROUP BY 1, 2, 3, 4`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var status, ctype string
		var first, upcoming bool
		var n int
		if err := rows.Scan(&status, &ctype, &first, &upcoming, &n); err != nil {
			return nil, err
		}
		st.Total += n
		st.ByStatus[Status(status)] += n
		st.ByConsultationType[ConsultationType(ctype)] += n
		if first {
			st.FirstConsultations += n
		}
		if upcoming {
			st.Upcoming += n
		}
	}
	return st, rows.Err()
}

// mapWriteErr turns a violation of the active slot index into
// ErrSlotConflict. Other unique violations, such as a duplicate id, pass
// through unchanged.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotIndex {
		return ErrSlotConflict
	}
	return err
}
