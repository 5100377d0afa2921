// Package archive fetches and decodes hourly public-activity-event archives.
// One hour slice is the unit of fetch and of idempotency
package archive

import (
	"fmt"
	"time"
)

// SliceRef identifies one archived hour (UTC)
type SliceRef struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// NewSliceRef creates a SliceRef from a time.Time, converting to UTC
func NewSliceRef(t time.Time) SliceRef {
	ut := t.UTC()
	return SliceRef{Year: ut.Year(), Month: int(ut.Month()), Day: ut.Day(), Hour: ut.Hour()}
}

// ParseSliceRef parses the archive naming form YYYY-MM-DD-H
func ParseSliceRef(s string) (SliceRef, error) {
	var ref SliceRef
	if _, err := fmt.Sscanf(s, "%d-%d-%d-%d", &ref.Year, &ref.Month, &ref.Day, &ref.Hour); err != nil {
		return SliceRef{}, fmt.Errorf("bad slice ref %q: %w", s, err)
	}
	if ref.Month < 1 || ref.Month > 12 || ref.Day < 1 || ref.Day > 31 || ref.Hour < 0 || ref.Hour > 23 {
		return SliceRef{}, fmt.Errorf("bad slice ref %q", s)
	}
	return ref, nil
}

// String returns the archive naming form: YYYY-MM-DD-H (hour unpadded)
func (s SliceRef) String() string {
	return fmt.Sprintf("%04d-%02d-%02d-%d", s.Year, s.Month, s.Day, s.Hour)
}

// Time returns the slice start as a UTC time
func (s SliceRef) Time() time.Time {
	return time.Date(s.Year, time.Month(s.Month), s.Day, s.Hour, 0, 0, 0, time.UTC)
}

// Weekday returns the slice day-of-week as "0".."6" with Sunday = "0",
// the histogram field form used by the counter store
func (s SliceRef) Weekday() string {
	return fmt.Sprintf("%d", int(s.Time().Weekday()))
}

// YearMonth returns "YYYY-MM", the per-month histogram field form
func (s SliceRef) YearMonth() string {
	return fmt.Sprintf("%04d-%02d", s.Year, s.Month)
}

// Next returns the ref one hour later
func (s SliceRef) Next() SliceRef {
	return NewSliceRef(s.Time().Add(time.Hour))
}

// Event is one recorded activity unit in the hour archive. Only the fields
// the aggregator needs are modeled; events are transient and never persisted
// verbatim, only their derived increments are
type Event struct {
	Actor      string     `json:"actor"`
	ActorAttrs ActorAttrs `json:"actor_attributes"`
	Type       string     `json:"type"`
	Repository Repository `json:"repository"`
}

// ActorAttrs carries the actor classification used to drop anonymous and
// organization events
type ActorAttrs struct {
	Type string `json:"type"`
}

// Repository is the repo an event occurred in, when it carries one
type Repository struct {
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Language     string `json:"language"`
}

// FullName returns "owner/name", or "" when either half is missing
func (r Repository) FullName() string {
	if r.Owner == "" || r.Name == "" {
		return ""
	}
	return r.Owner + "/" + r.Name
}
