package cron

import (
	"reflect"
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	sched, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return sched
}

func TestParseFieldForms(t *testing.T) {
	cases := []struct {
		expr    string
		minutes []int
	}{
		{"5 * * * *", []int{5}},
		{"1-3 * * * *", []int{1, 2, 3}},
		{"*/20 * * * *", []int{0, 20, 40}},
		{"10-30/10 * * * *", []int{10, 20, 30}},
		{"0,15,30,45 * * * *", []int{0, 15, 30, 45}},
		{"1,5-7 * * * *", []int{1, 5, 6, 7}},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			sched := mustParse(t, tc.expr)
			if got := sched.minutes.sorted(); !reflect.DeepEqual(got, tc.minutes) {
				t.Errorf("minutes = %v, want %v", got, tc.minutes)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 7",
		"5-2 * * * *",
		"*/0 * * * *",
		"a * * * *",
		"1,,2 * * * *",
	}
	for _, expr := range bad {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q): expected error", expr)
		}
	}
}

func TestNextDaily(t *testing.T) {
	sched := mustParse(t, "0 8 * * *")

	after := time.Date(2025, 6, 15, 7, 59, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}

	after = time.Date(2025, 6, 15, 8, 1, 0, 0, time.UTC)
	next, err = sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	want = time.Date(2025, 6, 16, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextWeekdayRange(t *testing.T) {
	sched := mustParse(t, "0 9 * * 1-5")
	// 2025-06-15 is a Sunday.
	after := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v (Monday)", next, want)
	}
}

func TestNextStrictlyAfter(t *testing.T) {
	sched := mustParse(t, "* * * * *")
	after := time.Date(2025, 6, 15, 10, 0, 30, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(after) {
		t.Errorf("Next = %v is not after %v", next, after)
	}
	if next.Second() != 0 {
		t.Errorf("Next not truncated to minute: %v", next)
	}
}

func TestNextDomDowOrSemantics(t *testing.T) {
	// Both restricted: fires on the 15th OR on Mondays.
	sched := mustParse(t, "0 12 15 * 1")

	// 2025-06-10 is a Tuesday; the next Monday is June 16, before the 15th? No:
	// June 15 is Sunday, so the DOM match on the 15th comes first.
	after := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v (day-of-month arm)", next, want)
	}

	// Immediately after the 15th the weekday arm fires on Monday the 16th.
	next, err = sched.Next(want)
	if err != nil {
		t.Fatal(err)
	}
	want = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v (weekday arm)", next, want)
	}
}

func TestNextDomDowBothRequiredWhenOneWildcard(t *testing.T) {
	// Only day-of-week restricted: day-of-month must not veto, weekday must match.
	sched := mustParse(t, "0 12 * * 3")
	after := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC) // Sunday
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC) // Wednesday
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextNoMatchWithinWindow(t *testing.T) {
	// February 30 never exists.
	sched := mustParse(t, "0 0 30 2 *")
	_, err := sched.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != ErrNoUpcomingRun {
		t.Errorf("err = %v, want ErrNoUpcomingRun", err)
	}
}

func TestNextEveryMinuteGap(t *testing.T) {
	// Invariant: no minute strictly between after and Next matches.
	sched := mustParse(t, "*/15 2-4 * * *")
	after := time.Date(2025, 3, 1, 0, 7, 0, 0, time.UTC)
	next, err := sched.Next(after)
	if err != nil {
		t.Fatal(err)
	}
	for cand := after.Truncate(time.Minute).Add(time.Minute); cand.Before(next); cand = cand.Add(time.Minute) {
		if sched.matches(cand) {
			t.Fatalf("minute %v matches but precedes Next %v", cand, next)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	exprs := []string{
		"0 8 * * *",
		"*/20 9-17 * * 1-5",
		"0,30 */2 1,15 6 *",
		"5 4 * 1-3 0,6",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			first := mustParse(t, expr)
			second := mustParse(t, first.String())
			if !reflect.DeepEqual(first.minutes.sorted(), second.minutes.sorted()) ||
				!reflect.DeepEqual(first.hours.sorted(), second.hours.sorted()) ||
				!reflect.DeepEqual(first.days.sorted(), second.days.sorted()) ||
				!reflect.DeepEqual(first.months.sorted(), second.months.sorted()) ||
				!reflect.DeepEqual(first.weekdays.sorted(), second.weekdays.sorted()) {
				t.Errorf("round trip changed sets: %q -> %q", expr, first.String())
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"0 8 * * 1-5", "At 08:00, Monday through Friday"},
		{"* * * * *", "Every minute"},
		{"0 * * * *", "At the top of every hour"},
		{"30 14 15 * *", "At 14:30, on day 15 of the month"},
		{"0 9 * 6 *", "At 09:00, in June"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Describe(tc.expr)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Describe = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDescribeInvalid(t *testing.T) {
	if _, err := Describe("not a cron"); err == nil {
		t.Fatal("expected error")
	}
}
