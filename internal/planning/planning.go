package planning

import (
	"errors"
	"fmt"
	"time"
)

// Default business window. Sessions never extend outside of it.
const (
	DefaultStart = "08:00"
	DefaultEnd   = "18:00"
)

// ErrInvalidRange is returned when the end instant precedes the start.
var ErrInvalidRange = errors.New("invalid range: end before start")

// Window is the daily business-hours window, times as "15:04" strings.
type Window struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func DefaultWindow() Window {
	return Window{Start: DefaultStart, End: DefaultEnd}
}

// Validate checks both bounds parse and are ordered.
func (w Window) Validate() error {
	s, err := minutesOf(w.Start)
	if err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	e, err := minutesOf(w.End)
	if err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	if e <= s {
		return fmt.Errorf("window end %s not after start %s", w.End, w.Start)
	}
	return nil
}

// Session is one worker-assignable day slice of a planned task.
type Session struct {
	Date  string `json:"date_edt" format:"date"`
	Start string `json:"heure_debut"`
	End   string `json:"heure_fin"`
}

// ClampToWindow moves an instant inside the business window: before the
// window start it becomes the window start, after the window end the
// window end. The calendar day is preserved.
func ClampToWindow(t time.Time, w Window) time.Time {
	sm, err := minutesOf(w.Start)
	if err != nil {
		sm, _ = minutesOf(DefaultStart)
	}
	em, err := minutesOf(w.End)
	if err != nil {
		em, _ = minutesOf(DefaultEnd)
	}
	m := t.Hour()*60 + t.Minute()
	switch {
	case m < sm:
		return time.Date(t.Year(), t.Month(), t.Day(), sm/60, sm%60, 0, 0, t.Location())
	case m > em:
		return time.Date(t.Year(), t.Month(), t.Day(), em/60, em%60, 0, 0, t.Location())
	default:
		return t
	}
}

// Sessions splits [start, end] into one session per calendar day. The
// first day starts at the input start time and the last day ends at the
// input end time; every intermediate day covers the full window. Both
// instants are expected to be pre-clamped to the window (ClampToWindow).
// The result is pure and deterministic so re-planning a task with the
// same range always yields the same session list.
func Sessions(start, end time.Time, w Window) ([]Session, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	firstDay := dayOf(start)
	lastDay := dayOf(end)
	var out []Session
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		s := Session{Date: day.Format("2006-01-02"), Start: w.Start, End: w.End}
		if day.Equal(firstDay) {
			s.Start = start.Format("15:04")
		}
		if day.Equal(lastDay) {
			s.End = end.Format("15:04")
		}
		out = append(out, s)
	}
	return out, nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func minutesOf(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return h*60 + m, nil
}
