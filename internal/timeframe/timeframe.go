package timeframe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFrameBucketSize is the granularity of a report time series.
type TimeFrameBucketSize string

const (
	TimeFrameBucketSizeDay  TimeFrameBucketSize = "day"
	TimeFrameBucketSizeHour TimeFrameBucketSize = "hour"
)

// Window is a trailing report range expressed in days.
type Window int

const (
	WindowToday      Window = 1
	WindowLast7Days  Window = 7
	WindowLast30Days Window = 30
	WindowLast90Days Window = 90
)

const (
	hoursPerDay      = 24
	hourKeyFormat    = "%02d"
	dayKeyLayout     = "2006-01-02"
	dayDisplayLayout = "2 Jan"
)

// SupportedWindows lists every window the dashboard offers, smallest first.
var SupportedWindows = []Window{WindowToday, WindowLast7Days, WindowLast30Days, WindowLast90Days}

// ParseWindow converts a "days" query value into a Window.
func ParseWindow(raw string) (Window, error) {
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", raw, err)
	}
	w := Window(days)
	if !w.Valid() {
		return 0, fmt.Errorf("unsupported window: %d days", days)
	}
	return w, nil
}

// Valid reports whether w is one of SupportedWindows.
func (w Window) Valid() bool {
	for _, s := range SupportedWindows {
		if w == s {
			return true
		}
	}
	return false
}

// BucketSize returns hourly buckets for "today" and daily buckets otherwise.
func (w Window) BucketSize() TimeFrameBucketSize {
	if w == WindowToday {
		return TimeFrameBucketSizeHour
	}
	return TimeFrameBucketSizeDay
}

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns the same instant. Useful for tests and for
// recomputing a report against a pinned "now".
type FixedTimeProvider struct {
	FixedTime time.Time
}

func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.FixedTime.In(loc)
}

// Bucket is one pre-seeded slot of a time series.
type Bucket struct {
	Key          string
	DisplayLabel string
}

// TimeFrame represents the query range and bucket layout for one report window.
type TimeFrame struct {
	From       time.Time
	To         time.Time
	Window     Window
	BucketSize TimeFrameBucketSize
	Tz         *time.Location
}

// NewWindowTimeFrame builds the time frame for w ending at now.
// Window 1 starts at local midnight; other windows start exactly w days before now.
func NewWindowTimeFrame(w Window, now time.Time, tz *time.Location) (*TimeFrame, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("unsupported window: %d days", int(w))
	}
	if tz == nil {
		tz = time.UTC
	}

	local := now.In(tz)
	from := local.AddDate(0, 0, -int(w))
	if w == WindowToday {
		from = TruncateToBucketInTimezone(local, TimeFrameBucketSizeDay, tz)
	}

	return &TimeFrame{
		From:       from,
		To:         local,
		Window:     w,
		BucketSize: w.BucketSize(),
		Tz:         tz,
	}, nil
}

// BucketKey returns the key of the bucket t falls in, evaluated in the frame's timezone.
// The key may name a bucket that GenerateBuckets did not seed.
func (tf *TimeFrame) BucketKey(t time.Time) string {
	local := t.In(tf.location())
	if tf.BucketSize == TimeFrameBucketSizeHour {
		return fmt.Sprintf(hourKeyFormat, local.Hour())
	}
	return local.Format(dayKeyLayout)
}

// GenerateBuckets returns the fixed, ordered bucket set for the frame.
// Hourly frames get "00".."23"; daily frames get one key per calendar day
// from Window-1 days ago through the day containing To.
func (tf *TimeFrame) GenerateBuckets() []Bucket {
	if tf.BucketSize == TimeFrameBucketSizeHour {
		buckets := make([]Bucket, 0, hoursPerDay)
		for h := 0; h < hoursPerDay; h++ {
			buckets = append(buckets, Bucket{
				Key:          fmt.Sprintf(hourKeyFormat, h),
				DisplayLabel: fmt.Sprintf("%dh", h),
			})
		}
		return buckets
	}

	days := int(tf.Window)
	today := TruncateToBucketInTimezone(tf.To, TimeFrameBucketSizeDay, tf.location())
	buckets := make([]Bucket, 0, days)
	for i := days - 1; i >= 0; i-- {
		// time.Date normalizes the day offset and keeps DST transitions out of the key.
		day := time.Date(today.Year(), today.Month(), today.Day()-i, 0, 0, 0, 0, tf.location())
		buckets = append(buckets, Bucket{
			Key:          day.Format(dayKeyLayout),
			DisplayLabel: day.Format(dayDisplayLayout),
		})
	}
	return buckets
}

// Duration returns the length of the query range.
func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

func (tf *TimeFrame) location() *time.Location {
	if tf.Tz == nil {
		return time.UTC
	}
	return tf.Tz
}

// TruncateToBucketInTimezone truncates a time to the appropriate bucket boundary in the given timezone
func TruncateToBucketInTimezone(t time.Time, bucketSize TimeFrameBucketSize, loc *time.Location) time.Time {
	localTime := t.In(loc)
	year, month, day := localTime.Year(), localTime.Month(), localTime.Day()

	switch bucketSize {
	case TimeFrameBucketSizeDay:
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case TimeFrameBucketSizeHour:
		return time.Date(year, month, day, localTime.Hour(), 0, 0, 0, loc)
	default:
		return localTime
	}
}
