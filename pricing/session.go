package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // bundle zone data so ET math works on hosts without zoneinfo
)

var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("pricing: load %s: %v", name, err))
	}
	return loc
}

// Eastern returns the US Eastern time zone (DST aware).
func Eastern() *time.Location { return eastern }

// EasternDate returns the US Eastern calendar date of t as YYYY-MM-DD.
// Daily risk budgets are bucketed by this key.
func EasternDate(t time.Time) string {
	return t.In(eastern).Format("2006-01-02")
}

// UTCDate returns the UTC calendar date of t as YYYY-MM-DD.
func UTCDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MinutesET returns minutes since Eastern midnight.
func MinutesET(t time.Time) int {
	et := t.In(eastern)
	return et.Hour()*60 + et.Minute()
}

const (
	rthOpenMin  = 9*60 + 30
	rthCloseMin = 16 * 60

	futMaintStartMin = 17 * 60
	futMaintEndMin   = 18 * 60
)

// IsEODBar reports whether t falls at or after the 16:00 ET cash close.
func IsEODBar(t time.Time) bool {
	return MinutesET(t) >= rthCloseMin
}

type Session string

const (
	SessionNYSE Session = "NYSE"
	SessionFUT  Session = "FUT"
	SessionAuto Session = "AUTO"
)

// InSession reports whether t is inside the trading hours of s.
// NYSE is 09:30-16:00 ET on weekdays. FUT trades around the clock except
// the 17:00-18:00 ET maintenance break. AUTO is always open on weekdays.
func InSession(t time.Time, s Session) bool {
	m := MinutesET(t)
	wd := t.In(eastern).Weekday()
	weekend := wd == time.Saturday || wd == time.Sunday

	switch s {
	case SessionFUT:
		return !(m >= futMaintStartMin && m < futMaintEndMin)
	case SessionAuto:
		return !weekend
	default:
		if weekend {
			return false
		}
		return m >= rthOpenMin && m <= rthCloseMin
	}
}

// Window is an inclusive ET time-of-day range in minutes.
type Window struct {
	StartMin int
	EndMin   int
}

// ParseWindows parses "HH:MM-HH:MM,HH:MM-HH:MM" into windows.
// An empty string yields no windows.
func ParseWindows(csv string) ([]Window, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}

	var out []Window
	for _, part := range strings.Split(csv, ",") {
		a, b, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, fmt.Errorf("invalid window %q", part)
		}
		start, err := parseClock(a)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, Window{StartMin: start, EndMin: end})
	}
	return out, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InWindows reports whether t falls inside any window. No windows means
// no restriction.
func InWindows(t time.Time, ws []Window) bool {
	if len(ws) == 0 {
		return true
	}
	m := MinutesET(t)
	for _, w := range ws {
		if m >= w.StartMin && m <= w.EndMin {
			return true
		}
	}
	return false
}
