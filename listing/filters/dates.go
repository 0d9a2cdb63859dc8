package filters

import (
	"fmt"
	"strings"
	"time"
)

// Canonical serializations of date and datetime filter values
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05.000000"
)

var datetimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseDateValue parses a date or datetime string. hasTime is false for
// date-only input.
func parseDateValue(v interface{}, loc *time.Location) (t time.Time, hasTime bool, ok bool) {
	s, isString := v.(string)
	if !isString {
		return time.Time{}, false, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false
	}

	if d, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return d, false, true
	}
	for _, layout := range datetimeLayouts {
		if d, err := time.ParseInLocation(layout, s, loc); err == nil {
			return d.In(loc), true, true
		}
	}
	return time.Time{}, false, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999000, t.Location())
}

func formatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func formatDatetime(t time.Time) string {
	return t.Format(DatetimeLayout)
}

// Timespans lists the named spans accepted by the timespan operator
var Timespans = []string{
	"today", "yesterday", "tomorrow",
	"this week", "last week", "next week",
	"this month", "last month", "next month",
	"this quarter", "last quarter", "next quarter",
	"this year", "last year", "next year",
	"last 6 months", "next 6 months",
}

// timespanRange resolves a named span to the first and last day it covers
func timespanRange(name string, now time.Time, weekStart time.Weekday) (time.Time, time.Time, error) {
	today := startOfDay(now)
	y, m, _ := today.Date()
	loc := today.Location()
	day := func(offset int) time.Time { return today.AddDate(0, 0, offset) }

	month := func(offset int) (time.Time, time.Time) {
		start := time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, -1)
	}
	quarter := func(offset int) (time.Time, time.Time) {
		first := ((int(m)-1)/3)*3 + 1
		start := time.Date(y, time.Month(first+3*offset), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 3, -1)
	}
	year := func(offset int) (time.Time, time.Time) {
		start := time.Date(y+offset, time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, -1)
	}
	week := func(offset int) (time.Time, time.Time) {
		back := (int(today.Weekday()) - int(weekStart) + 7) % 7
		start := day(-back + 7*offset)
		return start, start.AddDate(0, 0, 6)
	}

	var start, end time.Time
	switch normalizeSpanName(name) {
	case "today":
		start, end = today, today
	case "yesterday":
		start, end = day(-1), day(-1)
	case "tomorrow":
		start, end = day(1), day(1)
	case "this week":
		start, end = week(0)
	case "last week":
		start, end = week(-1)
	case "next week":
		start, end = week(1)
	case "this month":
		start, end = month(0)
	case "last month":
		start, end = month(-1)
	case "next month":
		start, end = month(1)
	case "this quarter":
		start, end = quarter(0)
	case "last quarter":
		start, end = quarter(-1)
	case "next quarter":
		start, end = quarter(1)
	case "this year":
		start, end = year(0)
	case "last year":
		start, end = year(-1)
	case "next year":
		start, end = year(1)
	case "last 6 months":
		start, end = today.AddDate(0, -6, 0), today
	case "next 6 months":
		start, end = today, today.AddDate(0, 6, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown timespan %q", name)
	}
	return start, end, nil
}

func normalizeSpanName(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, "_", " "))
	return strings.Join(strings.Fields(name), " ")
}
