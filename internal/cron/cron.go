// Package cron parses five-field cron expressions and solves for the next
// matching instant.
//
// Fields are minute (0-59), hour (0-23), day-of-month (1-31), month (1-12)
// and day-of-week (0-6, 0=Sunday). Each field accepts *, literals, ranges
// N-M, steps N-M/S or */S, and comma lists of those. When both day-of-month
// and day-of-week are restricted, a candidate matches if either field does
// (standard cron OR semantics).
package cron

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoUpcomingRun is returned when no matching instant exists within the
// 366-day search window.
var ErrNoUpcomingRun = errors.New("cron: no matching time within 366 days")

// maxSearchWindow bounds the minute-by-minute scan in Next.
const maxSearchWindow = 366 * 24 * time.Hour

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed cron expression: one value set per field.
type Schedule struct {
	minutes  valueSet
	hours    valueSet
	days     valueSet
	months   valueSet
	weekdays valueSet
}

// valueSet holds the legal values for one field plus whether the field was
// written as a bare wildcard. Wildcard-ness matters for the day-of-month /
// day-of-week combination rule.
type valueSet struct {
	values   map[int]bool
	wildcard bool
}

func (s valueSet) contains(v int) bool { return s.values[v] }

func (s valueSet) sorted() []int {
	out := make([]int, 0, len(s.values))
	for v := range s.values {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Parse parses a five-field cron expression.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}
	var sets [5]valueSet
	for i, field := range fields {
		set, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return &Schedule{
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseField(field string, spec fieldSpec) (valueSet, error) {
	set := valueSet{values: make(map[int]bool)}
	if field == "*" {
		set.wildcard = true
		for v := spec.min; v <= spec.max; v++ {
			set.values[v] = true
		}
		return set, nil
	}
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return valueSet{}, fmt.Errorf("cron: empty %s entry in %q", spec.name, field)
		}
		if err := parsePart(part, spec, set.values); err != nil {
			return valueSet{}, err
		}
	}
	return set, nil
}

func parsePart(part string, spec fieldSpec, into map[int]bool) error {
	step := 1
	rangePart := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		rangePart = part[:i]
		s, err := strconv.Atoi(part[i+1:])
		if err != nil || s < 1 {
			return fmt.Errorf("cron: invalid %s step in %q", spec.name, part)
		}
		step = s
	}

	lo, hi := spec.min, spec.max
	switch {
	case rangePart == "*":
		// Full range; only meaningful with a step.
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		var err1, err2 error
		lo, err1 = strconv.Atoi(bounds[0])
		hi, err2 = strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("cron: invalid %s range %q", spec.name, rangePart)
		}
		if lo > hi {
			return fmt.Errorf("cron: inverted %s range %q", spec.name, rangePart)
		}
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("cron: invalid %s value %q", spec.name, rangePart)
		}
		lo, hi = v, v
	}
	if lo < spec.min || hi > spec.max {
		return fmt.Errorf("cron: %s value out of range %d-%d in %q", spec.name, spec.min, spec.max, part)
	}
	for v := lo; v <= hi; v += step {
		into[v] = true
	}
	return nil
}

// matches reports whether t satisfies every field predicate.
func (s *Schedule) matches(t time.Time) bool {
	if !s.months.contains(int(t.Month())) {
		return false
	}
	if !s.hours.contains(t.Hour()) {
		return false
	}
	if !s.minutes.contains(t.Minute()) {
		return false
	}
	domOK := s.days.contains(t.Day())
	dowOK := s.weekdays.contains(int(t.Weekday()))
	if !s.days.wildcard && !s.weekdays.wildcard {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next returns the first instant strictly after `after` that matches the
// schedule, scanning minute by minute up to 366 days out.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(maxSearchWindow)
	for ; !t.After(limit); t = t.Add(time.Minute) {
		if s.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, ErrNoUpcomingRun
}

// NextRun parses expr and solves for the first run after the given instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after)
}

// String renders the schedule back into a canonical cron expression whose
// parse yields the same value sets.
func (s *Schedule) String() string {
	return strings.Join([]string{
		renderField(s.minutes),
		renderField(s.hours),
		renderField(s.days),
		renderField(s.months),
		renderField(s.weekdays),
	}, " ")
}

func renderField(set valueSet) string {
	if set.wildcard {
		return "*"
	}
	values := set.sorted()
	var parts []string
	for i := 0; i < len(values); {
		j := i
		for j+1 < len(values) && values[j+1] == values[j]+1 {
			j++
		}
		switch {
		case j == i:
			parts = append(parts, strconv.Itoa(values[i]))
		case j == i+1:
			parts = append(parts, strconv.Itoa(values[i]), strconv.Itoa(values[j]))
		default:
			parts = append(parts, fmt.Sprintf("%d-%d", values[i], values[j]))
		}
		i = j + 1
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ",")
}
