package pattern

import "time"

// Bucket boundaries in minutes past midnight.
const (
	morningStart   = 5 * 60
	afternoonStart = 12 * 60
	eveningStart   = 17 * 60
	nightStart     = 21 * 60
	businessStart  = 9 * 60
	businessEnd    = 17 * 60
)

// Contains reports whether t falls inside the bucket or range. The
// transaction's own location is used for hour and weekday.
func (s TimeSpec) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if s.Bucket == "" {
		return s.Range.Contains(minute)
	}
	return s.Bucket.Contains(minute, t.Weekday())
}

// Contains reports whether a minute of day on the given weekday belongs to
// the bucket.
func (b TimeBucket) Contains(minute int, day time.Weekday) bool {
	weekend := day == time.Saturday || day == time.Sunday

	switch b {
	case BucketMorning:
		return minute >= morningStart && minute < afternoonStart
	case BucketAfternoon:
		return minute >= afternoonStart && minute < eveningStart
	case BucketEvening:
		return minute >= eveningStart && minute < nightStart
	case BucketNight:
		return minute >= nightStart || minute < morningStart
	case BucketWeekend:
		return weekend
	case BucketWeekday:
		return !weekend
	case BucketBusinessHours:
		return !weekend && minute >= businessStart && minute < businessEnd
	case BucketAfterHours:
		return weekend || minute < businessStart || minute >= businessEnd
	}
	return false
}
