package scheduling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConsultationType is where or how the session takes place.
type ConsultationType string

const (
	ConsultationCabinet  ConsultationType = "cabinet"
	ConsultationDomicile ConsultationType = "domicile"
	ConsultationGroupe   ConsultationType = "groupe"
	ConsultationDistance ConsultationType = "distance"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultationCabinet, ConsultationDomicile, ConsultationGroupe, ConsultationDistance:
		return true
	}
	return false
}

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool { return s == StatusPending || s == StatusConfirmed }

func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusCompleted }

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Allowed consultation lengths in minutes.
const (
	Duration60 = 60
	Duration90 = 90
)

// Minutes is a consultation length. It decodes from a JSON number or a
// numeric string, since the booking form posts select values as strings.
type Minutes int

func (m *Minutes) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 {
		*m = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*m = Minutes(n)
	return nil
}

// BookingRequest is the inbound booking form.
type BookingRequest struct {
	FirstName           string           `json:"firstName"`
	LastName            string           `json:"lastName"`
	Email               string           `json:"email"`
	Phone               string           `json:"phone"`
	ConsultationType    ConsultationType `json:"consultationType"`
	PreferredDate       string           `json:"preferredDate"`
	PreferredTime       string           `json:"preferredTime"`
	Duration            Minutes          `json:"duration"`
	IsFirstConsultation bool             `json:"isFirstConsultation"`
	Reason              string           `json:"reason"`
	Consent             bool             `json:"consent"`
}

// MinReasonLength is the shortest accepted free-text reason.
const MinReasonLength = 10

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^(?:\+33\s?|0)[1-9](?:[\s.-]?\d{2}){4}$`)
)

// Check runs the field-level checks that precede the business rules.
func (r BookingRequest) Check() []string {
	var errs []string
	if strings.TrimSpace(r.FirstName) == "" {
		errs = append(errs, "Le prénom est requis")
	}
	if strings.TrimSpace(r.LastName) == "" {
		errs = append(errs, "Le nom est requis")
	}
	if !emailPattern.MatchString(r.Email) {
		errs = append(errs, "Adresse email invalide")
	}
	if !phonePattern.MatchString(strings.TrimSpace(r.Phone)) {
		errs = append(errs, "Numéro de téléphone invalide")
	}
	if len([]rune(strings.TrimSpace(r.Reason))) < MinReasonLength {
		errs = append(errs, fmt.Sprintf("Le motif doit contenir au moins %d caractères", MinReasonLength))
	}
	if !r.Consent {
		errs = append(errs, "Le consentement RGPD est requis")
	}
	return errs
}

// Appointment is a booked consultation. Records are never deleted;
// cancellation is a status change.
type Appointment struct {
	ID                  string           `json:"id"`
	FirstName           string           `json:"firstName"`
	LastName            string           `json:"lastName"`
	Email               string           `json:"email"`
	Phone               string           `json:"phone"`
	Date                string           `json:"date"`
	Time                string           `json:"time"`
	Duration            int              `json:"duration"`
	ConsultationType    ConsultationType `json:"consultationType"`
	IsFirstConsultation bool             `json:"isFirstConsultation"`
	Status              Status           `json:"status"`
	Notes               string           `json:"notes,omitempty"`
	ReminderSentAt      *time.Time       `json:"reminderSentAt,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

func (a *Appointment) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// SlotKey identifies the date+time+duration window an appointment holds.
func SlotKey(date, tod string, duration int) string {
	return fmt.Sprintf("%s %s/%d", date, tod, duration)
}

func (a *Appointment) SlotKey() string { return SlotKey(a.Date, a.Time, a.Duration) }

// slotRequest restates the appointment's slot as a booking request so the
// validator can check it.
func (a *Appointment) slotRequest() BookingRequest {
	return BookingRequest{
		ConsultationType: a.ConsultationType,
		PreferredDate:    a.Date,
		PreferredTime:    a.Time,
		Duration:         Minutes(a.Duration),
	}
}

// Start returns the appointment's start instant in loc.
func (a *Appointment) Start(loc *time.Location) (time.Time, error) {
	d, err := ParseDate(a.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTime(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hours(), t.Minutes(), 0, 0, d.Location()), nil
}

// End returns the instant the consultation finishes.
func (a *Appointment) End(loc *time.Location) (time.Time, error) {
	s, err := a.Start(loc)
	if err != nil {
		return time.Time{}, err
	}
	return s.Add(time.Duration(a.Duration) * time.Minute), nil
}

func (a *Appointment) overlaps(start TimeOfDay, duration int) bool {
	t, err := ParseTime(a.Time)
	if err != nil {
		return false
	}
	return int(start) < int(t)+a.Duration && int(t) < int(start)+duration
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	if a.ReminderSentAt != nil {
		at := *a.ReminderSentAt
		cp.ReminderSentAt = &at
	}
	return &cp
}

// AppointmentPatch holds the fields an update may change. Nil means unchanged.
type AppointmentPatch struct {
	FirstName        *string           `json:"firstName,omitempty"`
	LastName         *string           `json:"lastName,omitempty"`
	Email            *string           `json:"email,omitempty"`
	Phone            *string           `json:"phone,omitempty"`
	Date             *string           `json:"date,omitempty"`
	Time             *string           `json:"time,omitempty"`
	Duration         *int              `json:"duration,omitempty"`
	ConsultationType *ConsultationType `json:"consultationType,omitempty"`
	Status           *Status           `json:"status,omitempty"`
	Notes            *string           `json:"notes,omitempty"`
}

func (p AppointmentPatch) movesSlot() bool {
	return p.Date != nil || p.Time != nil || p.Duration != nil
}

// Stats aggregates the appointment store.
type Stats struct {
	Total              int                      `json:"total"`
	ByStatus           map[Status]int           `json:"byStatus"`
	ByConsultationType map[ConsultationType]int `json:"byConsultationType"`
	Upcoming           int                      `json:"upcoming"`
	FirstConsultations int                      `json:"firstConsultations"`
}

func newStats() *Stats {
	return &Stats{
		ByStatus:           make(map[Status]int),
		ByConsultationType: make(map[ConsultationType]int),
	}
}

// ValidationError carries every business-rule violation of a request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid booking request: " + strings.Join(e.Errors, "; ")
}

// MarshalJSON keeps the wire shape the booking form expects.
func (e *ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]string{"errors": e.Errors})
}
