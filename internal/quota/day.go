package quota

import "time"

// DayStart returns 00:00:00Z of the UTC calendar day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// DayKey formats the UTC day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
