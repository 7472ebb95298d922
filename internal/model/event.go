package model

import "time"

// Event is a cached calendar entry. ExternalID is the Calendar API
// event id.
type Event struct {
	ID         string    `db:"id"`
	ExternalID string    `db:"external_id"`
	Summary    string    `db:"summary"`
	Location   string    `db:"location"`
	Start      time.Time `db:"start_time"`
	End        time.Time `db:"end_time"`
	AllDay     bool      `db:"all_day"`
	FetchedAt  time.Time `db:"fetched_at"`
}

// TimeRange bounds a calendar query.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Upcoming returns a range from now through the given number of days.
func Upcoming(now time.Time, days int) TimeRange {
	return TimeRange{Start: now, End: now.AddDate(0, 0, days)}
}
