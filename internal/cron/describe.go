package cron

import (
	"fmt"
	"strings"
)

var weekdayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

var monthNames = [13]string{
	"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Describe renders a human-readable phrase for a cron expression, e.g.
// "At 08:00, Monday through Friday". The phrase is informational only.
func Describe(expr string) (string, error) {
	sched, err := Parse(expr)
	if err != nil {
		return "", err
	}
	parts := []string{sched.describeTime()}
	if day := sched.describeDays(); day != "" {
		parts = append(parts, day)
	}
	if month := sched.describeMonths(); month != "" {
		parts = append(parts, month)
	}
	return strings.Join(parts, ", "), nil
}

func (s *Schedule) describeTime() string {
	minutes := s.minutes.sorted()
	hours := s.hours.sorted()
	switch {
	case s.minutes.wildcard && s.hours.wildcard:
		return "Every minute"
	case len(minutes) == 1 && len(hours) == 1:
		return fmt.Sprintf("At %02d:%02d", hours[0], minutes[0])
	case len(minutes) == 1 && s.hours.wildcard:
		if minutes[0] == 0 {
			return "At the top of every hour"
		}
		return fmt.Sprintf("At minute %d past every hour", minutes[0])
	case len(minutes) == 1:
		times := make([]string, len(hours))
		for i, h := range hours {
			times[i] = fmt.Sprintf("%02d:%02d", h, minutes[0])
		}
		return "At " + strings.Join(times, ", ")
	default:
		return fmt.Sprintf("At minutes %s of hours %s",
			joinInts(minutes), joinInts(hours))
	}
}

func (s *Schedule) describeDays() string {
	var parts []string
	if !s.weekdays.wildcard {
		parts = append(parts, describeSet(s.weekdays, func(v int) string {
			return weekdayNames[v]
		}))
	}
	if !s.days.wildcard {
		doms := s.days.sorted()
		if len(doms) == 1 {
			parts = append(parts, fmt.Sprintf("on day %d of the month", doms[0]))
		} else {
			parts = append(parts, fmt.Sprintf("on days %s of the month", joinInts(doms)))
		}
	}
	return strings.Join(parts, " and ")
}

func (s *Schedule) describeMonths() string {
	if s.months.wildcard {
		return ""
	}
	return "in " + describeSet(s.months, func(v int) string {
		return monthNames[v]
	})
}

// describeSet renders a sorted value set either as a "X through Y" span when
// the values are contiguous, or as a comma list.
func describeSet(set valueSet, name func(int) string) string {
	values := set.sorted()
	if len(values) == 1 {
		return name(values[0])
	}
	contiguous := true
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return name(values[0]) + " through " + name(values[len(values)-1])
	}
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = name(v)
	}
	return strings.Join(names, ", ")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}
