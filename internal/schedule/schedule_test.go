package schedule

import (
	"errors"
	"testing"
	"time"
)

// June 2025: the 15th is a Sunday, so the 16th is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2025, 6, 16, hour, min, 0, 0, time.UTC)
}

func schoolNights() *Weekly {
	return &Weekly{
		Enabled: true,
		Windows: []Window{
			// Mon-Fri after school
			{Days: []int{1, 2, 3, 4, 5}, Start: "15:30", End: "20:00"},
			// Weekend mornings
			{Days: []int{0, 6}, Start: "09:00", End: "12:00"},
		},
	}
}

func TestWeekly_ActiveAt(t *testing.T) {
	s := &Weekly{
		Enabled: true,
		Windows: []Window{{Days: []int{1}, Start: "08:00", End: "17:00"}},
	}

	tests := []struct {
		name   string
		at     time.Time
		active bool
	}{
		{"mid window", monday(10, 0), true},
		{"minute before start", monday(7, 59), false},
		{"exactly at start", monday(8, 0), true},
		{"last covered minute", monday(16, 59), true},
		{"exactly at end", monday(17, 0), false},
		{"after end", monday(21, 0), false},
		{"day not listed", time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC), false}, // Tuesday
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.ActiveAt(tc.at); got != tc.active {
				t.Errorf("ActiveAt(%v) = %v, expected %v", tc.at, got, tc.active)
			}
		})
	}
}

func TestWeekly_ActiveAt_SecondsTruncated(t *testing.T) {
	s := &Weekly{Windows: []Window{{Days: []int{1}, Start: "08:00", End: "17:00"}}}

	justBeforeEnd := time.Date(2025, 6, 16, 16, 59, 59, 0, time.UTC)
	if !s.ActiveAt(justBeforeEnd) {
		t.Error("16:59:59 should still be inside an 08:00-17:00 window")
	}

	atEnd := time.Date(2025, 6, 16, 17, 0, 0, 0, time.UTC)
	if s.ActiveAt(atEnd) {
		t.Error("17:00:00 should be outside an 08:00-17:00 window")
	}
}

func TestWeekly_ActiveAt_EmptySchedule(t *testing.T) {
	s := &Weekly{Enabled: true}
	if s.ActiveAt(monday(12, 0)) {
		t.Error("schedule with no windows should never be active")
	}
}

func TestWeekly_CurrentWindowEnd(t *testing.T) {
	s := schoolNights()

	end, ok := s.CurrentWindowEnd(monday(16, 0))
	if !ok {
		t.Fatal("expected an active window at Monday 16:00")
	}
	expected := monday(20, 0)
	if !end.Equal(expected) {
		t.Errorf("CurrentWindowEnd = %v, expected %v", end, expected)
	}

	if _, ok := s.CurrentWindowEnd(monday(7, 0)); ok {
		t.Error("no window should be active at Monday 07:00")
	}
}

func TestWeekly_CurrentWindowEnd_OverlapLatestWins(t *testing.T) {
	s := &Weekly{
		Windows: []Window{
			{Days: []int{1}, Start: "08:00", End: "12:00"},
			{Days: []int{1}, Start: "10:00", End: "18:00"},
		},
	}

	end, ok := s.CurrentWindowEnd(monday(11, 0))
	if !ok {
		t.Fatal("expected an active window at Monday 11:00")
	}
	if !end.Equal(monday(18, 0)) {
		t.Errorf("overlapping windows: end = %v, expected latest end %v", end, monday(18, 0))
	}
}

func TestWeekly_NextWindowStart(t *testing.T) {
	s := schoolNights()

	// Monday morning: next window is Monday 15:30.
	start, err := s.NextWindowStart(monday(7, 0))
	if err != nil {
		t.Fatalf("NextWindowStart: %v", err)
	}
	if !start.Equal(monday(15, 30)) {
		t.Errorf("start = %v, expected %v", start, monday(15, 30))
	}

	// Monday evening after the window: Tuesday 15:30.
	start, err = s.NextWindowStart(monday(21, 0))
	if err != nil {
		t.Fatalf("NextWindowStart: %v", err)
	}
	expected := time.Date(2025, 6, 17, 15, 30, 0, 0, time.UTC)
	if !start.Equal(expected) {
		t.Errorf("start = %v, expected %v", start, expected)
	}
}

func TestWeekly_NextWindowStart_ScansAcrossWeek(t *testing.T) {
	// Window only on Wednesdays.
	s := &Weekly{Windows: []Window{{Days: []int{3}, Start: "10:00", End: "11:00"}}}

	// Asked on Thursday June 19: next is Wednesday June 25.
	thursday := time.Date(2025, 6, 19, 12, 0, 0, 0, time.UTC)
	start, err := s.NextWindowStart(thursday)
	if err != nil {
		t.Fatalf("NextWindowStart: %v", err)
	}
	expected := time.Date(2025, 6, 25, 10, 0, 0, 0, time.UTC)
	if !start.Equal(expected) {
		t.Errorf("start = %v, expected %v", start, expected)
	}
}

func TestWeekly_NextWindowEnd(t *testing.T) {
	s := schoolNights()

	t.Run("inside a window", func(t *testing.T) {
		end, err := s.NextWindowEnd(monday(16, 0))
		if err != nil {
			t.Fatalf("NextWindowEnd: %v", err)
		}
		if !end.Equal(monday(20, 0)) {
			t.Errorf("end = %v, expected current window end %v", end, monday(20, 0))
		}
	})

	t.Run("before a window", func(t *testing.T) {
		end, err := s.NextWindowEnd(monday(7, 0))
		if err != nil {
			t.Fatalf("NextWindowEnd: %v", err)
		}
		if !end.Equal(monday(20, 0)) {
			t.Errorf("end = %v, expected upcoming window end %v", end, monday(20, 0))
		}
	})

	t.Run("no windows at all", func(t *testing.T) {
		empty := &Weekly{Enabled: true}
		_, err := empty.NextWindowEnd(monday(7, 0))
		if !errors.Is(err, ErrNoUpcomingWindow) {
			t.Errorf("expected ErrNoUpcomingWindow, got %v", err)
		}
	})
}

func TestWeekly_NextWindowEnd_SameStartLatestEndWins(t *testing.T) {
	s := &Weekly{
		Windows: []Window{
			{Days: []int{1}, Start: "15:00", End: "16:00"},
			{Days: []int{1}, Start: "15:00", End: "19:00"},
		},
	}

	end, err := s.NextWindowEnd(monday(10, 0))
	if err != nil {
		t.Fatalf("NextWindowEnd: %v", err)
	}
	if !end.Equal(monday(19, 0)) {
		t.Errorf("end = %v, expected %v", end, monday(19, 0))
	}
}

func TestWeekly_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sched   Weekly
		wantErr bool
	}{
		{
			"valid single window",
			Weekly{Windows: []Window{{Days: []int{1}, Start: "08:00", End: "17:00"}}},
			false,
		},
		{
			"valid empty schedule",
			Weekly{},
			false,
		},
		{
			"no days",
			Weekly{Windows: []Window{{Start: "08:00", End: "17:00"}}},
			true,
		},
		{
			"bad weekday",
			Weekly{Windows: []Window{{Days: []int{7}, Start: "08:00", End: "17:00"}}},
			true,
		},
		{
			"bad start format",
			Weekly{Windows: []Window{{Days: []int{1}, Start: "8:00", End: "17:00"}}},
			true,
		},
		{
			"bad end format",
			Weekly{Windows: []Window{{Days: []int{1}, Start: "08:00", End: "25:00"}}},
			true,
		},
		{
			"start equals end",
			Weekly{Windows: []Window{{Days: []int{1}, Start: "08:00", End: "08:00"}}},
			true,
		},
		{
			"overnight window",
			Weekly{Windows: []Window{{Days: []int{1}, Start: "22:00", End: "06:00"}}},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sched.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWeekly_DisabledStillEvaluates(t *testing.T) {
	// Enabled is the caller's concern; the evaluator answers regardless.
	s := &Weekly{
		Enabled: false,
		Windows: []Window{{Days: []int{1}, Start: "08:00", End: "17:00"}},
	}
	if !s.ActiveAt(monday(10, 0)) {
		t.Error("evaluator should ignore the Enabled flag")
	}
}
