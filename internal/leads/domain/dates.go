package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PartialDate is a calendar date whose year may be unknown (Year == 0).
type PartialDate struct {
	Year  int
	Month time.Month
	Day   int
}

var (
	isoDatePattern     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
	brDatePattern      = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})(?:[/.-](\d{2,4}))?$`)
	monthDayISOPattern = regexp.MustCompile(`^--(\d{2})-(\d{2})$`)
)

// ParsePartialDate accepts "YYYY-MM-DD", "DD/MM/YYYY", "DD/MM" and "--MM-DD".
// Day-first is assumed for slash dates. Malformed input returns ok=false.
func ParsePartialDate(raw string) (PartialDate, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return PartialDate{}, false
	}

	var year, month, day int
	switch {
	case isoDatePattern.MatchString(value):
		m := isoDatePattern.FindStringSubmatch(value)
		year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
	case monthDayISOPattern.MatchString(value):
		m := monthDayISOPattern.FindStringSubmatch(value)
		month, day = atoi(m[1]), atoi(m[2])
	case brDatePattern.MatchString(value):
		m := brDatePattern.FindStringSubmatch(value)
		day, month = atoi(m[1]), atoi(m[2])
		if m[3] != "" {
			year = atoi(m[3])
			if year < 100 {
				year += 1900
				if year < 1930 {
					year += 100
				}
			}
		}
	default:
		return PartialDate{}, false
	}

	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return PartialDate{}, false
	}
	return PartialDate{Year: year, Month: time.Month(month), Day: day}, true
}

// String renders the date in the same forms ParsePartialDate accepts.
func (d PartialDate) String() string {
	if d.Year == 0 {
		return "--" + pad2(int(d.Month)) + "-" + pad2(d.Day)
	}
	return strconv.Itoa(d.Year) + "-" + pad2(int(d.Month)) + "-" + pad2(d.Day)
}

// OccursOn reports whether the anniversary falls on the given calendar day.
// A 29 February birthday is observed on 28 February in non-leap years.
func (d PartialDate) OccursOn(year int, month time.Month, day int) bool {
	if d.Month == time.February && d.Day == 29 && !isLeap(year) {
		return month == time.February && day == 28
	}
	return d.Month == month && d.Day == day
}

// CalendarDaysBetween counts whole calendar days from from's date to to's date.
// Each value is read in its own location, so date-only values stored at UTC
// midnight keep their calendar day.
func CalendarDaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func daysIn(month time.Month, year int) int {
	if month == time.February {
		if year == 0 || isLeap(year) {
			return 29
		}
		return 28
	}
	return time.Date(2001, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
