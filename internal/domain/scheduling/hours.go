package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidHours = errors.New("invalid business hours")

var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Break is the midday pause within a working day.
type Break struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// DayHours describes a working day. A nil *DayHours means closed.
type DayHours struct {
	Open  TimeOfDay `json:"open"`
	Close TimeOfDay `json:"close"`
	Break Break     `json:"break"`
}

func (h DayHours) validate() error {
	if !(h.Open < h.Break.Start && h.Break.Start < h.Break.End && h.Break.End < h.Close) {
		return fmt.Errorf("want open < break.start < break.end < close, got %s %s-%s %s",
			h.Open, h.Break.Start, h.Break.End, h.Close)
	}
	return nil
}

// inBreak reports whether [start, start+duration) intersects the break.
func (h DayHours) inBreak(start TimeOfDay, duration int) bool {
	end := int(start) + duration
	return int(start) < int(h.Break.End) && int(h.Break.Start) < end
}

// BusinessHours maps weekday names to opening hours. It is read-only once
// built; callers receive copies.
type BusinessHours struct {
	days map[string]*DayHours
}

// NewBusinessHours validates and copies the table. Missing weekdays are closed.
func NewBusinessHours(days map[string]*DayHours) (BusinessHours, error) {
	known := make(map[string]bool, len(weekdayNames))
	for _, n := range weekdayNames {
		known[n] = true
	}
	bh := BusinessHours{days: make(map[string]*DayHours, len(weekdayNames))}
	for name, h := range days {
		if !known[name] {
			return BusinessHours{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidHours, name)
		}
		if h == nil {
			continue
		}
		if err := h.validate(); err != nil {
			return BusinessHours{}, fmt.Errorf("%w: %s: %v", ErrInvalidHours, name, err)
		}
		cp := *h
		bh.days[name] = &cp
	}
	return bh, nil
}

// DefaultBusinessHours is the practice's opening schedule.
func DefaultBusinessHours() BusinessHours {
	day := func(open, bStart, bEnd, close string) *DayHours {
		return &DayHours{
			Open:  MustParseTime(open),
			Close: MustParseTime(close),
			Break: Break{Start: MustParseTime(bStart), End: MustParseTime(bEnd)},
		}
	}
	bh, err := NewBusinessHours(map[string]*DayHours{
		"monday":    day("09:00", "12:00", "14:00", "19:00"),
		"tuesday":   day("09:00", "12:00", "14:00", "19:00"),
		"wednesday": day("09:00", "12:00", "13:30", "19:00"),
		"thursday":  day("09:00", "12:00", "14:00", "19:00"),
		"friday":    day("09:00", "12:00", "14:00", "18:00"),
		"saturday":  nil,
		"sunday":    nil,
	})
	if err != nil {
		panic(err)
	}
	return bh
}

// For returns the hours for a weekday name, or nil when closed.
func (b BusinessHours) For(weekday string) *DayHours {
	h, ok := b.days[weekday]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// ForDate returns the hours that apply to t's weekday, or nil when closed.
func (b BusinessHours) ForDate(t time.Time) *DayHours {
	return b.For(WeekdayName(t))
}

// Table returns a copy of the whole week, closed days included as nil.
func (b BusinessHours) Table() map[string]*DayHours {
	out := make(map[string]*DayHours, len(weekdayNames))
	for _, n := range weekdayNames {
		out[n] = b.For(n)
	}
	return out
}
