package archive

import (
	"time"

	"github.com/go-faster/errors"
)

// Bucketing selects how archived orders are grouped into totals.
type Bucketing string

const (
	// BucketWeek groups orders by the Monday starting their ISO week.
	BucketWeek Bucketing = "week"
	// BucketDay groups orders by calendar day (UTC).
	BucketDay Bucketing = "day"
)

// ParseBucketing parses a bucketing name. An empty string selects BucketWeek.
func ParseBucketing(s string) (Bucketing, error) {
	switch Bucketing(s) {
	case "", BucketWeek:
		return BucketWeek, nil
	case BucketDay:
		return BucketDay, nil
	default:
		return "", errors.Errorf("unknown bucketing %q (want %q or %q)", s, BucketWeek, BucketDay)
	}
}

// Start returns the UTC midnight that opens the bucket containing t.
func (b Bucketing) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if b == BucketDay {
		return day
	}
	// Weekday is 0 on Sunday; ISO weeks start on Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
