package params

import (
	"fmt"
	"strings"
	"time"
)

// HistoryStrategy selects how the climatology lookback window is derived.
type HistoryStrategy string

const (
	// HistoryFixed always sends FixedStart/FixedEnd.
	HistoryFixed HistoryStrategy = "fixed"
	// HistoryRelative ends the window at the earlier of the target date and
	// today and starts it a number of years before.
	HistoryRelative HistoryStrategy = "relative"
)

// Fixed window sent by the dashboard regardless of target date.
const (
	FixedStart = "20000709"
	FixedEnd   = "20250831"
)

// DefaultHistoryYears is the relative window length.
const DefaultHistoryYears = 5

const windowLayout = "20060102"

// Window is the historical range appended to every request, as YYYYMMDD.
type Window struct {
	Start string
	End   string
}

// ParseHistoryStrategy accepts "fixed", "relative" and "relativeToTarget".
// The empty string selects HistoryFixed.
func ParseHistoryStrategy(s string) (HistoryStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed":
		return HistoryFixed, nil
	case "relative", "relativetotarget", "relative_to_target":
		return HistoryRelative, nil
	default:
		return "", fmt.Errorf("unknown history strategy %q", s)
	}
}

// HistoryWindow computes the window for target under strategy. years <= 0
// uses DefaultHistoryYears.
func HistoryWindow(strategy HistoryStrategy, target string, now time.Time, years int) (Window, error) {
	switch strategy {
	case HistoryFixed, "":
		return Window{Start: FixedStart, End: FixedEnd}, nil
	case HistoryRelative:
	default:
		return Window{}, fmt.Errorf("unknown history strategy %q", strategy)
	}

	t, err := time.Parse(DateLayout, target)
	if err != nil {
		return Window{}, fmt.Errorf("parsing target date: %w", err)
	}
	if years <= 0 {
		years = DefaultHistoryYears
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := t
	if today.Before(end) {
		end = today
	}

	day := end.Day()
	if end.Month() == time.February && day == 29 {
		day = 28
	}
	start := time.Date(end.Year()-years, end.Month(), day, 0, 0, 0, 0, time.UTC)

	return Window{Start: start.Format(windowLayout), End: end.Format(windowLayout)}, nil
}
