package scheduling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts for civil dates and wall-clock times. All values are local to the
// practice's configured location; no offset is ever carried.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

const minutesPerDay = 24 * 60

var ErrInvalidFormat = errors.New("invalid format")

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTime parses a zero-padded "HH:MM" string.
func ParseTime(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalidFormat, s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: time %q out of range", ErrInvalidFormat, s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustParseTime is ParseTime for compile-time constants.
func MustParseTime(s string) TimeOfDay {
	t, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hours() int   { return int(t) / 60 }
func (t TimeOfDay) Minutes() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hours(), t.Minutes())
}

// Add returns t shifted by n minutes. The result never wraps past midnight.
func (t TimeOfDay) Add(n int) (TimeOfDay, error) {
	r := int(t) + n
	if r < 0 || r >= minutesPerDay {
		return 0, fmt.Errorf("%s %+d min leaves the day", t, n)
	}
	return TimeOfDay(r), nil
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TimeToMinutes returns hours*60+minutes for an "HH:MM" string.
func TimeToMinutes(s string) (int, error) {
	t, err := ParseTime(s)
	if err != nil {
		return 0, err
	}
	return int(t), nil
}

// AddMinutes adds n minutes to an "HH:MM" string. Results at or past 24:00
// are an error rather than rolling into the next day.
func AddMinutes(s string, n int) (string, error) {
	t, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	r, err := t.Add(n)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }
func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

// ParseDate parses a "YYYY-MM-DD" civil date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q, want YYYY-MM-DD", ErrInvalidFormat, s)
	}
	return d, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekdayName returns the lowercase English weekday ("monday".."sunday").
func WeekdayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// French public holidays on a fixed day of the year, as MM-DD.
var fixedHolidays = map[string]bool{
	"01-01": true, // Jour de l'an
	"05-01": true, // Fête du travail
	"05-08": true, // Victoire 1945
	"07-14": true, // Fête nationale
	"08-15": true, // Assomption
	"11-01": true, // Toussaint
	"11-11": true, // Armistice
	"12-25": true, // Noël
}

// Moveable holidays as day offsets from Easter Sunday.
var easterOffsets = []int{
	1,  // Lundi de Pâques
	39, // Ascension
	50, // Lundi de Pentecôte
}

// IsHoliday reports whether a "YYYY-MM-DD" date is a French public holiday.
// Malformed dates are never holidays.
func IsHoliday(date string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	if fixedHolidays[d.Format("01-02")] {
		return true
	}
	easter := easterSunday(d.Year())
	for _, off := range easterOffsets {
		if easter.AddDate(0, 0, off).Equal(d) {
			return true
		}
	}
	return false
}

// Holidays lists the French public holidays of a year in date order.
func Holidays(year int) []string {
	var out []string
	for d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == year; d = d.AddDate(0, 0, 1) {
		if s := FormatDate(d); IsHoliday(s) {
			out = append(out, s)
		}
	}
	return out
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(y int) time.Time {
	a := y % 19
	b, c := y/100, y%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
