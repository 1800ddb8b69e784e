package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
)

const secondsPerDay = 24 * 60 * 60

// DefaultWindowsPerDay splits a day into four 6 hour fetch windows.
const DefaultWindowsPerDay = 4

// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
var ErrInvalidDate = errors.New("invalid date")

// InvalidRangeError is returned when the start date is after the end date.
type InvalidRangeError struct {
	StartDate string
	EndDate   string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: start %s is after end %s", e.StartDate, e.EndDate)
}

// LoadLocation resolves an IANA timezone name. Empty name resolves to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("can't load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Plan returns one Day per calendar day in [startDate, endDate] computed in loc.
// Each day is covered end-to-end by windowsPerDay consecutive windows; the last
// window always ends where the next local day starts, so 23h and 25h DST days
// have neither gaps nor overlaps. Days whose midnight falls in a DST gap start
// at the end of the gap.
func Plan(startDate, endDate string, loc *time.Location, windowsPerDay int) ([]entity.Day, error) {
	if loc == nil {
		loc = time.UTC
	}
	if windowsPerDay < 1 {
		windowsPerDay = 1
	}

	start, n, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	days := make([]entity.Day, 0, n)
	for i := 0; i < n; i++ {
		civil := start.AddDate(0, 0, i)
		from := DayStart(civil, loc)
		to := DayStart(civil.AddDate(0, 0, 1), loc)
		days = append(days, entity.Day{
			Date:    civil.Format(entity.DateLayout),
			Start:   from,
			End:     to,
			Windows: split(from, to, windowsPerDay),
		})
	}
	return days, nil
}

// ValidateRange checks both dates parse and startDate is not after endDate.
func ValidateRange(startDate, endDate string) error {
	_, _, err := parseRange(startDate, endDate)
	return err
}

// DaySpan returns the number of calendar days in [startDate, endDate].
func DaySpan(startDate, endDate string) (int, error) {
	_, n, err := parseRange(startDate, endDate)
	return n, err
}

// parseRange parses both dates as civil dates at UTC midnight and counts the
// days between them without touching any timezone.
func parseRange(startDate, endDate string) (time.Time, int, error) {
	start, err := time.Parse(entity.DateLayout, startDate)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: start date %q: %v", ErrInvalidDate, startDate, err)
	}
	end, err := time.Parse(entity.DateLayout, endDate)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: end date %q: %v", ErrInvalidDate, endDate, err)
	}
	if start.After(end) {
		return time.Time{}, 0, &InvalidRangeError{StartDate: startDate, EndDate: endDate}
	}
	// Unix seconds, a Duration overflows past ~292 years
	return start, int((end.Unix()-start.Unix())/secondsPerDay) + 1, nil
}

// DateOf returns the merchant-local calendar date of t.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(entity.DateLayout)
}

// DayStart returns the first instant in loc whose local date is the calendar
// date of civil. When local midnight does not exist that is the end of the gap.
func DayStart(civil time.Time, loc *time.Location) time.Time {
	y, m, d := civil.Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if ty, tm, td := t.Date(); ty == y && tm == m && td == d {
		return t
	}
	// midnight normalized back into the previous day
	if _, end := t.ZoneBounds(); !end.IsZero() {
		return end.In(loc)
	}
	return t
}

func split(start, end time.Time, n int) []entity.FetchWindow {
	step := end.Sub(start) / time.Duration(n)
	windows := make([]entity.FetchWindow, 0, n)
	from := start
	for i := 0; i < n; i++ {
		to := from.Add(step)
		if i == n-1 {
			to = end
		}
		windows = append(windows, entity.FetchWindow{Start: from, End: to})
		from = to
	}
	return windows
}
