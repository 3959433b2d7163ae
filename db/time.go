package db

import "time"

// TimeFormat stores ledger timestamps as fixed-width UTC text so that string
// order matches time order in SQL comparisons.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime reads a ledger timestamp, accepting RFC 3339 as written by
// older rows or sqlite defaults.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
