package planning

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestSessionsMultiDay(t *testing.T) {
	got, err := Sessions(date(2024, 1, 1, 8, 0), date(2024, 1, 3, 13, 0), DefaultWindow())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	want := []Session{
		{Date: "2024-01-01", Start: "08:00", End: "18:00"},
		{Date: "2024-01-02", Start: "08:00", End: "18:00"},
		{Date: "2024-01-03", Start: "08:00", End: "13:00"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestSessionsSameDay(t *testing.T) {
	got, err := Sessions(date(2024, 3, 15, 9, 30), date(2024, 3, 15, 16, 45), DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d", len(got))
	}
	if got[0].Start != "09:30" || got[0].End != "16:45" {
		t.Fatalf("unexpected bounds %+v", got[0])
	}
}

func TestSessionsBoundaries(t *testing.T) {
	start := date(2024, 6, 3, 10, 15)
	end := date(2024, 6, 7, 12, 0)
	got, err := Sessions(start, end, DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Start != "10:15" {
		t.Fatalf("first start %s", got[0].Start)
	}
	if got[len(got)-1].End != "12:00" {
		t.Fatalf("last end %s", got[len(got)-1].End)
	}
	for _, s := range got[1 : len(got)-1] {
		if s.Start != "08:00" || s.End != "18:00" {
			t.Fatalf("intermediate session %+v not full window", s)
		}
	}
}

func TestSessionsDeterministic(t *testing.T) {
	start := date(2024, 2, 1, 8, 0)
	end := date(2024, 2, 5, 17, 0)
	a, err := Sessions(start, end, DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Sessions(start, end, DefaultWindow())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same input produced different sessions")
	}
}

func TestSessionsInvalidRange(t *testing.T) {
	_, err := Sessions(date(2024, 1, 2, 8, 0), date(2024, 1, 1, 18, 0), DefaultWindow())
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestClampToWindow(t *testing.T) {
	w := DefaultWindow()
	cases := []struct {
		in   time.Time
		want string
	}{
		{date(2024, 1, 1, 6, 30), "08:00"},
		{date(2024, 1, 1, 8, 0), "08:00"},
		{date(2024, 1, 1, 12, 42), "12:42"},
		{date(2024, 1, 1, 18, 0), "18:00"},
		{date(2024, 1, 1, 21, 5), "18:00"},
	}
	for _, c := range cases {
		got := ClampToWindow(c.in, w)
		if got.Format("15:04") != c.want {
			t.Errorf("clamp %s: got %s want %s", c.in.Format("15:04"), got.Format("15:04"), c.want)
		}
		if got.Format("2006-01-02") != c.in.Format("2006-01-02") {
			t.Errorf("clamp changed the day: %s -> %s", c.in, got)
		}
	}
}

func TestWindowValidate(t *testing.T) {
	if err := (Window{Start: "08:00", End: "18:00"}).Validate(); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
	if err := (Window{Start: "18:00", End: "08:00"}).Validate(); err == nil {
		t.Fatal("inverted window accepted")
	}
	if err := (Window{Start: "abc", End: "18:00"}).Validate(); err == nil {
		t.Fatal("garbage start accepted")
	}
}
