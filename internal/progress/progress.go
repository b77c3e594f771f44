// Package progress derives a 0-100 completion percentage for a task
// from its state and elapsed real-world time. The clock is always an
// explicit parameter so estimates are deterministic under test.
package progress

import (
	"math"
	"time"

	"batiplan/internal/domain"
)

// Bounds for tasks in progress. The last 10% is reserved for the
// explicit transition to termine; an overdue task pins at Max.
const (
	Min = 25
	Max = 90
)

// Estimate returns the completion percentage of a task at instant now.
//
// en attente -> 0, termine -> 100. A task marked en cours without a
// recorded actual start reports Min. Otherwise the elapsed fraction of
// [actual start, effective end] is rounded and clamped to [Min, Max],
// where the effective end is the actual end when present, the planned
// end otherwise.
func Estimate(t domain.Task, now time.Time) int {
	switch t.State {
	case domain.TaskPending:
		return 0
	case domain.TaskDone:
		return 100
	case domain.TaskInProgress:
		start, ok := parseDate(t.ActualStart)
		if !ok {
			return Min
		}
		end, ok := parseDate(t.ActualEnd)
		if !ok {
			end, ok = parseDate(t.PlannedEnd)
		}
		if !ok {
			return Min
		}
		if now.After(end) {
			return Max
		}
		total := end.Sub(start)
		if total <= 0 {
			return Max
		}
		elapsed := now.Sub(start)
		pct := int(math.Round(float64(elapsed) / float64(total) * 100))
		if pct < Min {
			return Min
		}
		if pct > Max {
			return Max
		}
		return pct
	default:
		return 0
	}
}

func parseDate(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
