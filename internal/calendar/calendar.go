// Package calendar answers "what was the previous trading day" for the
// spot metal markets. The rule is a plain weekend skip: Saturdays and
// Sundays are not trading days, every weekday is. Exchange holidays are
// a known limitation and are intentionally not modelled here.
package calendar

import "time"

// LastTradingDay returns the trading day preceding d.
//
// Sunday maps to the prior Friday (d-2), Monday to the prior Friday
// (d-3), every other day to the previous calendar day.
func LastTradingDay(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Sunday:
		return d.AddDate(0, 0, -2)
	case time.Monday:
		return d.AddDate(0, 0, -3)
	default:
		return d.AddDate(0, 0, -1)
	}
}

// EndOfDay returns the last instant of the calendar day containing d, in
// d's location. Used as the anchor for baseline history lookups.
func EndOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, 0, d.Location())
}
