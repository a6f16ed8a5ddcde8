// Package report turns windowed batches of tracking data into the analytics report
// shown on the admin dashboard.
package report

import (
	"time"

	"coursepulse/internal/tracking"
)

const (
	topClicksLimit      = 10
	recentSessionsLimit = 10
	topReferrersLimit   = 10
	topCountriesLimit   = 10

	// UnknownClickText labels clicks on elements without text.
	UnknownClickText = "Unknown"
)

// SourceCount is the number of sessions attributed to one decoded utm_source.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// ClickCount groups clicks by element text.
type ClickCount struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
	Type  string `json:"type"`
}

// RecentSession is a raw session record plus its decoded attribution.
type RecentSession struct {
	tracking.SessionRecord
	SourceLabel   string `json:"source_label"`
	CampaignLabel string `json:"campaign_label"`
}

// TimeSeriesPoint is one hourly or daily bucket.
type TimeSeriesPoint struct {
	Date         string `json:"date"`
	Clicks       int    `json:"clicks"`
	Sessions     int    `json:"sessions"`
	AvgDuration  int    `json:"avgDuration"`
	DisplayLabel string `json:"displayLabel"`
}

// ReferrerCount counts page views per referring site.
type ReferrerCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CountryCount counts sessions per visitor country.
type CountryCount struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report is the complete analytics view for one window.
type Report struct {
	TotalClicks     int               `json:"totalClicks"`
	TotalSessions   int               `json:"totalSessions"`
	AverageDuration int               `json:"averageDuration"`
	UTMSources      []SourceCount     `json:"utmSources"`
	TopClicks       []ClickCount      `json:"topClicks"`
	RecentSessions  []RecentSession   `json:"recentSessions"`
	TimeSeriesData  []TimeSeriesPoint `json:"timeSeriesData"`
	TopReferrers    []ReferrerCount   `json:"topReferrers"`
	TopCountries    []CountryCount    `json:"topCountries"`
	BounceRate      float64           `json:"bounceRate"`
	Window          int               `json:"window"`
	GeneratedAt     time.Time         `json:"generatedAt"`
}

// Zero returns the report served when the underlying data could not be read:
// every count is zero and every list, the time series included, is empty.
func Zero(window int, generatedAt time.Time) Report {
	return Report{
		UTMSources:     []SourceCount{},
		TopClicks:      []ClickCount{},
		RecentSessions: []RecentSession{},
		TimeSeriesData: []TimeSeriesPoint{},
		TopReferrers:   []ReferrerCount{},
		TopCountries:   []CountryCount{},
		Window:         window,
		GeneratedAt:    generatedAt,
	}
}

// IsEmpty reports whether the report holds no activity at all.
func (r Report) IsEmpty() bool {
	return r.TotalClicks == 0 && r.TotalSessions == 0 && len(r.TopReferrers) == 0
}
