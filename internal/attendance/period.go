// Package attendance decides when a recognized identity earns an
// attendance mark and records it durably.
package attendance

import (
	"fmt"
	"time"
)

// PeriodPolicy controls how often the same identity can be marked.
type PeriodPolicy string

const (
	// PolicyDaily allows one mark per identity per calendar day.
	PolicyDaily PeriodPolicy = "daily"
	// PolicySessional allows one mark per identity per session,
	// regardless of date.
	PolicySessional PeriodPolicy = "sessional"
)

// ParsePolicy converts a string into a PeriodPolicy. Empty defaults to daily.
func ParsePolicy(s string) (PeriodPolicy, error) {
	switch s {
	case "", string(PolicyDaily):
		return PolicyDaily, nil
	case string(PolicySessional):
		return PolicySessional, nil
	default:
		return "", fmt.Errorf("unknown period policy %q", s)
	}
}

// PeriodKey derives the deduplication period for a mark at the given time.
// Daily policy keys on the calendar date; sessional policy keys on the
// session id, so every new session gets a fresh period and can mark the
// same identity again.
func (p PeriodPolicy) PeriodKey(sessionID string, now time.Time) string {
	if p == PolicySessional {
		return sessionID
	}
	return now.Format("2006-01-02")
}
