package model

import "time"

// TimeLayout is the fixed-width stamp format used for UpdatedAt,
// LastSyncedAt and the sync watermark. All producers emit UTC with
// millisecond precision so that raw string comparison is a valid total
// order; stamps from any other producer must go through ParseTime.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Now returns the current time as a fixed-width stamp.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t as a fixed-width stamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stamp strictly. Callers decoding remote documents
// should treat a failure as "field absent" rather than failing the
// record (see the mapper package).
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}
