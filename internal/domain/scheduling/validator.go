package scheduling

import "time"

// Business-rule messages shown to the patient.
const (
	MsgInvalidDate        = "Date invalide (format attendu AAAA-MM-JJ)"
	MsgDateInPast         = "La date choisie est dans le passé"
	MsgDateTooFar         = "La date choisie est à plus de 3 mois"
	MsgClosedDay          = "Le cabinet est fermé ce jour-là"
	MsgHoliday            = "Le cabinet est fermé les jours fériés"
	MsgInvalidTime        = "Heure invalide (format attendu HH:MM)"
	MsgTimeInPast         = "L'heure choisie est déjà passée"
	MsgTimeNotOffered     = "Ce créneau n'est pas proposé pour cette durée"
	MsgInvalidDuration    = "Durée invalide (60 ou 90 minutes)"
	MsgInvalidType        = "Type de consultation inconnu"
	MsgDomicileNeeds90Min = "Les consultations à domicile durent 90 minutes"
)

// MaxAdvanceMonths is how far ahead a booking may be placed.
const MaxAdvanceMonths = 3

// ValidationResult lists every rule a request breaks.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

type ValidatorOption func(*Validator)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithLocation sets the practice time zone. Defaults to time.Local.
func WithLocation(loc *time.Location) ValidatorOption {
	return func(v *Validator) { v.loc = loc }
}

// Validator checks booking requests against calendar and business rules.
type Validator struct {
	hours BusinessHours
	slots *SlotGenerator
	now   func() time.Time
	loc   *time.Location
}

func NewValidator(hours BusinessHours, opts ...ValidatorOption) *Validator {
	v := &Validator{
		hours: hours,
		slots: NewSlotGenerator(hours),
		now:   time.Now,
		loc:   time.Local,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate accumulates all violations; it never stops at the first one.
func (v *Validator) Validate(req BookingRequest) ValidationResult {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	duration := int(req.Duration)
	durationOK := duration == Duration60 || duration == Duration90
	if !durationOK {
		add(MsgInvalidDuration)
	}
	if !req.ConsultationType.Valid() {
		add(MsgInvalidType)
	} else if req.ConsultationType == ConsultationDomicile && duration != Duration90 {
		add(MsgDomicileNeeds90Min)
	}

	tod, timeErr := ParseTime(req.PreferredTime)
	if timeErr != nil {
		add(MsgInvalidTime)
	}

	date, err := ParseDate(req.PreferredDate, v.loc)
	if err != nil {
		add(MsgInvalidDate)
		return result(errs)
	}

	now := v.now().In(v.loc)
	today := StartOfDay(now)
	working := true
	if date.Before(today) {
		add(MsgDateInPast)
	} else if date.Equal(today) && timeErr == nil && atTime(date, tod).Before(now) {
		add(MsgTimeInPast)
	}
	if date.After(today.AddDate(0, MaxAdvanceMonths, 0)) {
		add(MsgDateTooFar)
	}
	if v.hours.ForDate(date) == nil {
		add(MsgClosedDay)
		working = false
	}
	if IsHoliday(req.PreferredDate) {
		add(MsgHoliday)
		working = false
	}

	if working && durationOK && timeErr == nil && !v.offered(date, tod, duration) {
		add(MsgTimeNotOffered)
	}
	return result(errs)
}

func atTime(date time.Time, tod TimeOfDay) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), tod.Hours(), tod.Minutes(), 0, 0, date.Location())
}

// offered reports whether tod is an available generated slot for the day.
func (v *Validator) offered(date time.Time, tod TimeOfDay, duration int) bool {
	want := tod.String()
	for _, s := range v.slots.GenerateDaySlots(date, duration) {
		if s.Time == want {
			return s.Available
		}
	}
	return false
}

func result(errs []string) ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// Err converts a failed result into a *ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}
