package report

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"coursepulse/internal/pkg/referrers"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

var countryQuery = sync.OnceValue(gountries.New)

// batch is everything one report is computed from.
type batch struct {
	links     []utm.LinkDefinition
	sessions  []tracking.SessionRecord
	clicks    []tracking.ClickEvent
	pageViews []tracking.PageView
}

func aggregate(tf *timeframe.TimeFrame, b batch) Report {
	decoding := utm.BuildDecodingMap(b.links)

	return Report{
		TotalClicks:     len(b.clicks),
		TotalSessions:   len(b.sessions),
		AverageDuration: averageDuration(b.sessions),
		UTMSources:      countSources(b.sessions, decoding),
		TopClicks:       topClicks(b.clicks),
		RecentSessions:  recentSessions(b.sessions, decoding),
		TimeSeriesData:  timeSeries(tf, b.sessions, b.clicks),
		TopReferrers:    topReferrers(b.pageViews),
		TopCountries:    topCountries(b.sessions),
		BounceRate:      bounceRate(b.sessions),
		Window:          int(tf.Window),
		GeneratedAt:     tf.To,
	}
}

func duration(s tracking.SessionRecord) int {
	if s.TotalDuration == nil {
		return 0
	}
	return *s.TotalDuration
}

// roundedMean divides with the denominator floored at 1.
func roundedMean(sum, n int) int {
	if n < 1 {
		n = 1
	}
	return int(math.Round(float64(sum) / float64(n)))
}

func averageDuration(sessions []tracking.SessionRecord) int {
	sum := 0
	for _, s := range sessions {
		sum += duration(s)
	}
	return roundedMean(sum, len(sessions))
}

// orderedCounter counts keys and remembers the order they were first seen in,
// so a stable sort keeps that order for ties.
type orderedCounter struct {
	index  map[string]int
	keys   []string
	counts []int
}

func newOrderedCounter() *orderedCounter {
	return &orderedCounter{index: make(map[string]int)}
}

// add increments key and reports whether it was seen for the first time.
func (c *orderedCounter) add(key string) (int, bool) {
	if i, ok := c.index[key]; ok {
		c.counts[i]++
		return i, false
	}
	i := len(c.keys)
	c.index[key] = i
	c.keys = append(c.keys, key)
	c.counts = append(c.counts, 1)
	return i, true
}

// ranked returns positions into keys ordered by count descending.
func (c *orderedCounter) ranked() []int {
	order := make([]int, len(c.keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return c.counts[order[a]] > c.counts[order[b]]
	})
	return order
}

func countSources(sessions []tracking.SessionRecord, decoding utm.DecodingMap) []SourceCount {
	counter := newOrderedCounter()
	for _, s := range sessions {
		raw := tracking.StringValue(s.UTMSource)
		if raw == "" {
			continue
		}
		counter.add(utm.Decode(raw, utm.DimensionSource, decoding))
	}

	result := make([]SourceCount, 0, len(counter.keys))
	for _, i := range counter.ranked() {
		result = append(result, SourceCount{Source: counter.keys[i], Count: counter.counts[i]})
	}
	return result
}

func topClicks(clicks []tracking.ClickEvent) []ClickCount {
	counter := newOrderedCounter()
	types := []string{}
	for _, c := range clicks {
		text := strings.TrimSpace(c.ElementText)
		if text == "" {
			text = UnknownClickText
		}
		if _, first := counter.add(text); first {
			types = append(types, c.ElementType)
		}
	}

	result := make([]ClickCount, 0, topClicksLimit)
	for _, i := range counter.ranked() {
		if len(result) == topClicksLimit {
			break
		}
		result = append(result, ClickCount{Text: counter.keys[i], Count: counter.counts[i], Type: types[i]})
	}
	return result
}

func recentSessions(sessions []tracking.SessionRecord, decoding utm.DecodingMap) []RecentSession {
	n := len(sessions)
	if n > recentSessionsLimit {
		n = recentSessionsLimit
	}

	result := make([]RecentSession, 0, n)
	for _, s := range sessions[:n] {
		result = append(result, RecentSession{
			SessionRecord: s,
			SourceLabel:   utm.DecodePtr(s.UTMSource, utm.DimensionSource, decoding),
			CampaignLabel: utm.DecodePtr(s.UTMCampaign, utm.DimensionCampaign, decoding),
		})
	}
	return result
}

func timeSeries(tf *timeframe.TimeFrame, sessions []tracking.SessionRecord, clicks []tracking.ClickEvent) []TimeSeriesPoint {
	buckets := tf.GenerateBuckets()
	points := make([]TimeSeriesPoint, len(buckets))
	durations := make([]int, len(buckets))
	index := make(map[string]int, len(buckets))
	for i, b := range buckets {
		points[i] = TimeSeriesPoint{Date: b.Key, DisplayLabel: b.DisplayLabel}
		index[b.Key] = i
	}

	// Keys outside the seeded set are dropped.
	for _, c := range clicks {
		if i, ok := index[tf.BucketKey(c.CreatedAt)]; ok {
			points[i].Clicks++
		}
	}
	for _, s := range sessions {
		if i, ok := index[tf.BucketKey(s.CreatedAt)]; ok {
			points[i].Sessions++
			durations[i] += duration(s)
		}
	}

	for i := range points {
		if points[i].Sessions > 0 {
			points[i].AvgDuration = roundedMean(durations[i], points[i].Sessions)
		}
	}
	return points
}

func topReferrers(views []tracking.PageView) []ReferrerCount {
	counter := newOrderedCounter()
	for _, v := range views {
		host := referrers.Hostname(v.Referrer)
		if host == "" {
			continue
		}
		counter.add(referrers.FriendlyName(host))
	}

	result := make([]ReferrerCount, 0, topReferrersLimit)
	for _, i := range counter.ranked() {
		if len(result) == topReferrersLimit {
			break
		}
		result = append(result, ReferrerCount{Name: counter.keys[i], Count: counter.counts[i]})
	}
	return result
}

func topCountries(sessions []tracking.SessionRecord) []CountryCount {
	upper := cases.Upper(language.AmericanEnglish)
	counter := newOrderedCounter()
	for _, s := range sessions {
		code := strings.TrimSpace(tracking.StringValue(s.Country))
		if code == "" {
			continue
		}
		counter.add(upper.String(code))
	}

	result := make([]CountryCount, 0, topCountriesLimit)
	for _, i := range counter.ranked() {
		if len(result) == topCountriesLimit {
			break
		}
		code := counter.keys[i]
		name := code
		if country, err := countryQuery().FindCountryByAlpha(code); err == nil {
			name = country.Name.Common
		}
		result = append(result, CountryCount{Code: code, Name: name, Count: counter.counts[i]})
	}
	return result
}

// bounceRate only considers closed sessions; open ones have no bounce flag yet.
func bounceRate(sessions []tracking.SessionRecord) float64 {
	closed, bounced := 0, 0
	for _, s := range sessions {
		if s.Bounce == nil {
			continue
		}
		closed++
		if *s.Bounce {
			bounced++
		}
	}
	if closed == 0 {
		return 0
	}
	return math.Round(float64(bounced)/float64(closed)*100) / 100
}
