// Package markethours answers whether the spot forex market is trading.
// The week runs from Sunday 22:00 UTC to Friday 22:00 UTC.
package markethours

import (
	"fmt"
	"time"
)

// Weekly session boundaries in UTC.
const (
	OpenWeekday  = time.Sunday
	CloseWeekday = time.Friday
	SessionHour  = 22
)

// searchLimit bounds NextOpen/NextClose scans (a week plus holiday slack).
const searchLimit = 10 * 24

// IsMarketOpen returns true if t falls inside the forex trading week and is
// not a holiday.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case OpenWeekday:
		return u.Hour() >= SessionHour
	case CloseWeekday:
		return u.Hour() < SessionHour
	}
	return true
}

// IsWeekend returns true between the Friday close and the Sunday open.
func IsWeekend(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday:
		return true
	case OpenWeekday:
		return u.Hour() < SessionHour
	case CloseWeekday:
		return u.Hour() >= SessionHour
	}
	return false
}

// NextOpen returns the next time the market opens. If the market is already
// open at t, t is returned.
func NextOpen(t time.Time) time.Time {
	return nextBoundary(t, true)
}

// NextClose returns the next time the market closes. If the market is closed
// at t, t is returned.
func NextClose(t time.Time) time.Time {
	return nextBoundary(t, false)
}

// All session edges fall on whole UTC hours, so stepping hour by hour from
// the truncated hour finds the first one.
func nextBoundary(t time.Time, open bool) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) == open {
		return u
	}
	h := u.Truncate(time.Hour)
	for i := 0; i < searchLimit; i++ {
		h = h.Add(time.Hour)
		if IsMarketOpen(h) == open {
			return h
		}
	}
	return h
}

// TimeUntilClose returns the duration until the market closes.
// Returns 0 if the market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	return NextClose(t).Sub(t.UTC())
}

// TimeUntilOpen returns the duration until the next market open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.UTC())
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t.UTC())))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
