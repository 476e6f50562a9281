// Package billingperiod decides when a paid account's monthly or annual
// cycle is due and which calendar period an invoice belongs to.
//
// All functions work on calendar dates: the time of day and location of
// their arguments are ignored after truncation to the date in the
// argument's own location.
package billingperiod

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Period string

const (
	Monthly Period = "monthly"
	Annual  Period = "annual"
)

func (p Period) Valid() bool {
	return p == Monthly || p == Annual
}

func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrInvalidPeriod
	}
	return p, nil
}

// CollectionWindow is the number of days after the checkday during which
// collection is attempted. The account is suspended on the last day.
const CollectionWindow = 8

var (
	ErrInvalidPeriod = errors.New("invalid_billing_period")
	ErrInvalidLabel  = errors.New("invalid_period_label")
)

func date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the month.
func DaysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Checkday is the anchor's day of month placed in the target month, clamped
// to the month's length.
func Checkday(anchor time.Time, month time.Month, year int) time.Time {
	day := anchor.Day()
	if last := DaysIn(month, year); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysFromCheckday counts whole calendar days from checkday to today.
func DaysFromCheckday(today, checkday time.Time) int {
	return int(date(today).Sub(date(checkday)).Hours() / 24)
}

// MonthlyDue reports whether a monthly cycle is due on today and which
// month it targets. A month is due from its checkday through the last day
// of the collection window. When the window of the previous month's
// checkday runs into this month, the previous month is the target, so
// short months never skip a cycle. The creation month is never reached
// through that catch-up.
func MonthlyDue(today, anchor time.Time) (bool, time.Month, int) {
	today, anchor = date(today), date(anchor)
	if anchor.After(today) {
		return false, 0, 0
	}

	current := Checkday(anchor, today.Month(), today.Year())
	if !today.Before(current) {
		if DaysFromCheckday(today, current) <= CollectionWindow {
			return true, today.Month(), today.Year()
		}
		return false, 0, 0
	}

	prevMonth := today.AddDate(0, 0, -today.Day())
	previous := Checkday(anchor, prevMonth.Month(), prevMonth.Year())
	if !withinCatchUp(today, previous, anchor) {
		return false, 0, 0
	}
	return true, previous.Month(), previous.Year()
}

// withinCatchUp reports whether a checkday that precedes the current cycle
// still has its collection window open on today.
func withinCatchUp(today, previous, anchor time.Time) bool {
	if previous.Before(anchor) || IsFirstPeriod(anchor, previous.Month(), previous.Year()) {
		return false
	}
	return DaysFromCheckday(today, previous) <= CollectionWindow
}

// AnnualDue reports whether an annual cycle is due on today. The anniversary
// of the current year is due through the collection window; before it, last
// year's anniversary stays due while its window is open.
func AnnualDue(today, anchor time.Time) (bool, time.Month, int) {
	today, anchor = date(today), date(anchor)
	if anchor.After(today) {
		return false, 0, 0
	}

	current := Checkday(anchor, anchor.Month(), today.Year())
	if !current.After(today) {
		if DaysFromCheckday(today, current) <= CollectionWindow {
			return true, current.Month(), current.Year()
		}
		return false, 0, 0
	}

	previous := Checkday(anchor, anchor.Month(), today.Year()-1)
	if !withinCatchUp(today, previous, anchor) {
		return false, 0, 0
	}
	return true, previous.Month(), previous.Year()
}

// Due dispatches to MonthlyDue or AnnualDue.
func Due(period Period, today, anchor time.Time) (bool, time.Month, int) {
	if period == Annual {
		return AnnualDue(today, anchor)
	}
	return MonthlyDue(today, anchor)
}

// Label formats a period as MM-YYYY.
func Label(month time.Month, year int) string {
	return fmt.Sprintf("%02d-%04d", int(month), year)
}

func ParseLabel(label string) (time.Month, int, error) {
	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidLabel
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, ErrInvalidLabel
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 1 {
		return 0, 0, ErrInvalidLabel
	}
	return time.Month(month), year, nil
}

// IsFirstPeriod reports whether the target period is the one the account
// was created in. The first period is never charged.
func IsFirstPeriod(anchor time.Time, month time.Month, year int) bool {
	return anchor.Year() == year && anchor.Month() == month
}

// LedgerWindow is the creation-date range searched for invoices that
// already cover a target period.
func LedgerWindow(period Period, today time.Time) (time.Time, time.Time) {
	today = date(today)
	until := today.AddDate(0, 0, 60)
	if period == Annual {
		return today.AddDate(0, 0, -(60 + 365)), until
	}
	return today.AddDate(0, 0, -60), until
}
