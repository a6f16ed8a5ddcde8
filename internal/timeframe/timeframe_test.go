// Package timeframe_test contains tests for the timeframe package
package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepulse/internal/timeframe"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		raw     string
		want    timeframe.Window
		wantErr bool
	}{
		{raw: "1", want: timeframe.WindowToday},
		{raw: "7", want: timeframe.WindowLast7Days},
		{raw: " 30 ", want: timeframe.WindowLast30Days},
		{raw: "90", want: timeframe.WindowLast90Days},
		{raw: "14", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "week", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := timeframe.ParseWindow(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWindowTimeFrame_TodayStartsAtLocalMidnight(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	// 2025-03-10 00:30 in Madrid is still 2025-03-09 in UTC.
	now := time.Date(2025, 3, 10, 0, 30, 0, 0, madrid)
	tf, err := timeframe.NewWindowTimeFrame(timeframe.WindowToday, now, madrid)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, madrid), tf.From)
	assert.Equal(t, timeframe.TimeFrameBucketSizeHour, tf.BucketSize)
	assert.Equal(t, 30*time.Minute, tf.Duration())
}

func TestNewWindowTimeFrame_TrailingDays(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	tf, err := timeframe.NewWindowTimeFrame(timeframe.WindowLast7Days, now, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), tf.From)
	assert.Equal(t, now, tf.To)
	assert.Equal(t, timeframe.TimeFrameBucketSizeDay, tf.BucketSize)
}

func TestNewWindowTimeFrame_RejectsUnsupportedWindow(t *testing.T) {
	_, err := timeframe.NewWindowTimeFrame(timeframe.Window(3), time.Now(), time.UTC)
	assert.Error(t, err)
}

func TestGenerateBuckets_Counts(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, w := range timeframe.SupportedWindows {
		tf, err := timeframe.NewWindowTimeFrame(w, now, time.UTC)
		require.NoError(t, err)

		buckets := tf.GenerateBuckets()
		if w == timeframe.WindowToday {
			assert.Len(t, buckets, 24)
		} else {
			assert.Len(t, buckets, int(w))
		}
	}
}

func TestGenerateBuckets_Hourly(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	tf, err := timeframe.NewWindowTimeFrame(timeframe.WindowToday, now, time.UTC)
	require.NoError(t, err)

	buckets := tf.GenerateBuckets()
	assert.Equal(t, timeframe.Bucket{Key: "00", DisplayLabel: "0h"}, buckets[0])
	assert.Equal(t, timeframe.Bucket{Key: "09", DisplayLabel: "9h"}, buckets[9])
	assert.Equal(t, timeframe.Bucket{Key: "23", DisplayLabel: "23h"}, buckets[23])
}

func TestGenerateBuckets_DailyEndsToday(t *testing.T) {
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	tf, err := timeframe.NewWindowTimeFrame(timeframe.WindowLast7Days, now, time.UTC)
	require.NoError(t, err)

	buckets := tf.GenerateBuckets()
	require.Len(t, buckets, 7)
	assert.Equal(t, "2025-02-24", buckets[0].Key)
	assert.Equal(t, "24 Feb", buckets[0].DisplayLabel)
	assert.Equal(t, "2025-03-02", buckets[6].Key)
	assert.Equal(t, "2 Mar", buckets[6].DisplayLabel)

	for i := 1; i < len(buckets); i++ {
		assert.Less(t, buckets[i-1].Key, buckets[i].Key, "buckets must be ascending")
	}
}

func TestGenerateBuckets_DailyAcrossDST(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	// Clocks moved forward on 2025-03-30 in Madrid.
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, madrid)
	tf, err := timeframe.NewWindowTimeFrame(timeframe.WindowLast7Days, now, madrid)
	require.NoError(t, err)

	keys := make([]string, 0, 7)
	for _, b := range tf.GenerateBuckets() {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{
		"2025-03-27", "2025-03-28", "2025-03-29", "2025-03-30",
		"2025-03-31", "2025-04-01", "2025-04-02",
	}, keys)
}

func TestBucketKey_UsesFrameTimezone(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2025, 6, 10, 22, 0, 0, 0, newYork)
	daily, err := timeframe.NewWindowTimeFrame(timeframe.WindowLast7Days, now, newYork)
	require.NoError(t, err)
	hourly, err := timeframe.NewWindowTimeFrame(timeframe.WindowToday, now, newYork)
	require.NoError(t, err)

	// 2025-06-11 01:30 UTC is still June 10th, 21h, in New York.
	event := time.Date(2025, 6, 11, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-10", daily.BucketKey(event))
	assert.Equal(t, "21", hourly.BucketKey(event))
}

func TestFixedTimeProvider(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	p := &timeframe.FixedTimeProvider{FixedTime: fixed}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	got := p.Now(tokyo)
	assert.True(t, got.Equal(fixed))
	assert.Equal(t, 21, got.Hour())
}
