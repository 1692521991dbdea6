package models

import "time"

// FindingStatus classifies an hourly bucket that is not fully covered.
type FindingStatus string

const (
	FindingEmpty   FindingStatus = "EMPTY"
	FindingPartial FindingStatus = "PARTIAL"
)

// IntegrityFinding reports one under-covered hour for one symbol.
type IntegrityFinding struct {
	Status        FindingStatus
	Symbol        string
	ExchangeID    int
	InstType      InstType
	HourStart     time.Time
	ObservedCount int64
}

// Day returns the calendar day of the bucket in the bucket's location.
func (f IntegrityFinding) Day() time.Time {
	y, m, d := f.HourStart.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, f.HourStart.Location())
}

func (f IntegrityFinding) Hour() int {
	return f.HourStart.Hour()
}

// Classify returns the finding status for an observed row count against the
// expected count per bucket. ok is false when the bucket is complete.
func Classify(observed, expected int64) (status FindingStatus, ok bool) {
	switch {
	case observed <= 0:
		return FindingEmpty, true
	case observed < expected:
		return FindingPartial, true
	default:
		return "", false
	}
}
