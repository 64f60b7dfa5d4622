package animation

import "time"

type Unit string

const (
	Minutes Unit = "mins"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"
	Months  Unit = "months"
	Years   Unit = "years"
)

// Units lists the accepted step units in their canonical order.
var Units = []Unit{Minutes, Hours, Days, Weeks, Months, Years}

func (u Unit) Valid() bool {
	for _, v := range Units {
		if u == v {
			return true
		}
	}
	return false
}

// Delta is a calendar relative step, e.g. 3 months.
type Delta struct {
	Unit Unit
	Step int
}

// Times returns the delta multiplied by n (n steps at once, not n chained
// additions, so month end clamping never accumulates).
func (d Delta) Times(n int) Delta {
	return Delta{Unit: d.Unit, Step: d.Step * n}
}

// AddTo applies the delta to t. Minutes and hours are absolute durations;
// days and weeks move the wall clock date; months and years clamp the day
// of month to the last valid day instead of overflowing into the next month.
func (d Delta) AddTo(t time.Time) time.Time {
	switch d.Unit {
	case Minutes:
		return t.Add(time.Duration(d.Step) * time.Minute)
	case Hours:
		return t.Add(time.Duration(d.Step) * time.Hour)
	case Days:
		return t.AddDate(0, 0, d.Step)
	case Weeks:
		return t.AddDate(0, 0, 7*d.Step)
	case Months:
		return addMonths(t, d.Step)
	case Years:
		return addMonths(t, 12*d.Step)
	default:
		return t
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, day := t.Date()
	total := int(m) - 1 + n
	y += floorDiv(total, 12)
	m = time.Month(floorMod(total, 12) + 1)
	if last := daysIn(y, m); day > last {
		day = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(y, m, day, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, m time.Month) int {
	// day 0 of the next month is the last day of m
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
