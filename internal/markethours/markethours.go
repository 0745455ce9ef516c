package markethours

import (
	"fmt"
	"time"
)

// KST is Korea Standard Time (UTC+9).
var KST = time.FixedZone("KST", 9*3600)

// KRX regular session in KST.
const (
	OpenHour    = 9
	OpenMinute  = 0
	CloseHour   = 15
	CloseMinute = 30

	// Daily report fires shortly after the close, once fills have settled.
	ReportHour   = 15
	ReportMinute = 40
)

// IsMarketOpen returns true if t falls within KRX trading hours
// (9:00 AM – 3:30 PM KST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	kst := t.In(KST)
	wd := kst.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(kst) {
		return false
	}
	hm := kst.Hour()*60 + kst.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(KST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a KRX holiday.
func IsTradingDay(t time.Time) bool {
	kst := t.In(KST)
	return IsWeekday(kst) && !IsHoliday(kst)
}

// NextOpen returns the next market open (9:00 AM KST on the next trading
// day). If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	kst := t.In(KST)

	todayOpen := time.Date(kst.Year(), kst.Month(), kst.Day(), OpenHour, OpenMinute, 0, 0, KST)
	if kst.Before(todayOpen) && IsTradingDay(kst) {
		return todayOpen
	}

	d := kst.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // holidays + weekends never stack past 10 days
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, KST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(kst.Year(), kst.Month(), kst.Day()+1, OpenHour, OpenMinute, 0, 0, KST)
}

// TodayClose returns today's market close time (3:30 PM KST).
func TodayClose(t time.Time) time.Time {
	kst := t.In(KST)
	return time.Date(kst.Year(), kst.Month(), kst.Day(), CloseHour, CloseMinute, 0, 0, KST)
}

// TodayReportTime returns today's daily-report time (3:40 PM KST).
func TodayReportTime(t time.Time) time.Time {
	kst := t.In(KST)
	return time.Date(kst.Year(), kst.Month(), kst.Day(), ReportHour, ReportMinute, 0, 0, KST)
}

// TimeUntilClose returns the duration until today's close, 0 if closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(KST))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next market open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.In(KST))
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	kst := next.In(KST)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		kst.Weekday().String()[:3], kst.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
