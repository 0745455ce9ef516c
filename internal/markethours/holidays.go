package markethours

import "time"

// KRX market holidays for 2026.
// Source: KRX trading calendar.
var krxHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},    // New Year's Day
	{time.February, 16},  // Seollal holiday
	{time.February, 17},  // Seollal (Lunar New Year)
	{time.February, 18},  // Seollal holiday
	{time.March, 2},      // Independence Movement Day (observed)
	{time.May, 1},        // Labor Day
	{time.May, 5},        // Children's Day
	{time.May, 25},       // Buddha's Birthday (observed)
	{time.June, 3},       // Local election day (tentative)
	{time.August, 17},    // Liberation Day (observed)
	{time.September, 24}, // Chuseok holiday
	{time.September, 25}, // Chuseok (Korean Thanksgiving)
	{time.October, 5},    // Chuseok substitute
	{time.October, 9},    // Hangul Day
	{time.December, 25},  // Christmas
	{time.December, 31},  // Year-end market closure
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(krxHolidays2026))
	for _, h := range krxHolidays2026 {
		holidaySet[dateKey(2026, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in KST) is a KRX holiday.
func IsHoliday(t time.Time) bool {
	kst := t.In(KST)
	return holidaySet[dateKey(kst.Year(), kst.Month(), kst.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, KST).Format("2006-01-02")
}
