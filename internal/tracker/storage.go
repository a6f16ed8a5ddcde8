package tracker

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TabStorage persists values for the lifetime of one browser tab. It survives
// page-to-page navigation and is discarded when the tab closes.
type TabStorage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MemoryStorage is a TabStorage backed by a map.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

const (
	keySessionID    = "cp_session_id"
	keySessionStart = "cp_session_start"
	keyPageViews    = "cp_page_views"
	keyUTMPrefix    = "cp_utm_"
)

var utmParams = []string{"source", "medium", "campaign", "term", "content"}

// Attribution is the five-part UTM tuple attached to tracked events.
type Attribution struct {
	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string
}

func (a Attribution) IsZero() bool {
	return a == Attribution{}
}

func (a Attribution) values() []string {
	return []string{a.Source, a.Medium, a.Campaign, a.Term, a.Content}
}

func attributionFrom(values []string) Attribution {
	return Attribution{Source: values[0], Medium: values[1], Campaign: values[2], Term: values[3], Content: values[4]}
}

// AttributionFromQuery reads utm_* parameters from a query string.
func AttributionFromQuery(q url.Values) Attribution {
	values := make([]string, len(utmParams))
	for i, p := range utmParams {
		values[i] = strings.TrimSpace(q.Get("utm_" + p))
	}
	return attributionFrom(values)
}

func loadAttribution(s TabStorage) Attribution {
	values := make([]string, len(utmParams))
	for i, p := range utmParams {
		values[i], _ = s.Get(keyUTMPrefix + p)
	}
	return attributionFrom(values)
}

func saveAttribution(s TabStorage, a Attribution) {
	for i, v := range a.values() {
		s.Set(keyUTMPrefix+utmParams[i], v)
	}
}

func loadStart(s TabStorage) (time.Time, bool) {
	raw, ok := s.Get(keySessionStart)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func loadPageViews(s TabStorage) int {
	raw, _ := s.Get(keyPageViews)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
