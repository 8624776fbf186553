package domain

import "time"

// Timestamps are stored as fixed-width UTC text so that string order matches
// chronological order.
const (
	TimeLayout = "2006-01-02T15:04:05.000Z"
	DateLayout = "2006-01-02"
)

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// EndOfDay returns the last representable millisecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
