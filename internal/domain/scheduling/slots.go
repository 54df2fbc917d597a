package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// Reasons attached to unavailable slots and non-working days.
const (
	ReasonBreak   = "pause déjeuner"
	ReasonClosed  = "fermé"
	ReasonHoliday = "férié"
	ReasonBooked  = "déjà réservé"
)

// MaxRangeDays bounds a single availability query.
const MaxRangeDays = 92

var (
	ErrInvalidRange    = errors.New("start date is after end date")
	ErrRangeTooLarge   = errors.New("date range too large")
	ErrInvalidDuration = errors.New("invalid duration")
)

// Slot is one bookable start time on a day for a fixed duration.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DaySchedule is the slot list of one calendar date.
type DaySchedule struct {
	Date         string `json:"date"`
	IsWorkingDay bool   `json:"isWorkingDay"`
	Slots        []Slot `json:"slots"`
	Reason       string `json:"reason,omitempty"`
}

// SlotGenerator derives slots from business hours alone. It never looks at
// existing appointments; see MarkBooked for that.
type SlotGenerator struct {
	hours BusinessHours
}

func NewSlotGenerator(hours BusinessHours) *SlotGenerator {
	return &SlotGenerator{hours: hours}
}

// GenerateDaySlots tiles the day back-to-back from opening time, one slot per
// duration, stopping once a slot would end after closing. Slots touching the
// break are kept but marked unavailable.
func (g *SlotGenerator) GenerateDaySlots(date time.Time, duration int) []Slot {
	slots := []Slot{}
	h := g.hours.ForDate(date)
	if h == nil || duration <= 0 {
		return slots
	}
	for start := h.Open; int(start)+duration <= int(h.Close); start += TimeOfDay(duration) {
		s := Slot{Time: start.String(), Available: true}
		if h.inBreak(start, duration) {
			s.Available = false
			s.Reason = ReasonBreak
		}
		slots = append(slots, s)
	}
	return slots
}

// GetAvailableSlots returns one DaySchedule per date in [start, end], in date
// order. Holidays and closed weekdays are non-working days with no slots.
func (g *SlotGenerator) GetAvailableSlots(start, end time.Time, duration int) ([]DaySchedule, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, duration)
	}
	start, end = StartOfDay(start), StartOfDay(end)
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	if daysBetween(start, end)+1 > MaxRangeDays {
		return nil, fmt.Errorf("%w: max %d days", ErrRangeTooLarge, MaxRangeDays)
	}

	var out []DaySchedule
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := FormatDate(d)
		switch {
		case IsHoliday(date):
			out = append(out, DaySchedule{Date: date, Slots: []Slot{}, Reason: ReasonHoliday})
		case g.hours.ForDate(d) == nil:
			out = append(out, DaySchedule{Date: date, Slots: []Slot{}, Reason: ReasonClosed})
		default:
			out = append(out, DaySchedule{Date: date, IsWorkingDay: true, Slots: g.GenerateDaySlots(d, duration)})
		}
	}
	return out, nil
}

// MarkBooked flags slots whose interval overlaps an active appointment on the
// same date. Schedules are modified in place and returned for chaining.
func MarkBooked(days []DaySchedule, appts []*Appointment, duration int) []DaySchedule {
	byDate := make(map[string][]*Appointment)
	for _, a := range appts {
		if a.Status.Active() {
			byDate[a.Date] = append(byDate[a.Date], a)
		}
	}
	for i := range days {
		booked := byDate[days[i].Date]
		if len(booked) == 0 {
			continue
		}
		for j := range days[i].Slots {
			s := &days[i].Slots[j]
			if !s.Available {
				continue
			}
			start, err := ParseTime(s.Time)
			if err != nil {
				continue
			}
			for _, a := range booked {
				if a.overlaps(start, duration) {
					s.Available = false
					s.Reason = ReasonBooked
					break
				}
			}
		}
	}
	return days
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
