package report

import (
	"sync"

	"coursepulse/internal/metrics"
)

// View holds the most recently displayed report and guards it against results
// arriving out of order. Every computation takes a ticket from Begin; Apply only
// accepts the result of the latest ticket issued.
type View struct {
	mu      sync.RWMutex
	issued  uint64
	applied uint64
	current Report
	ready   bool
	metrics *metrics.Collector
}

func NewView(m *metrics.Collector) *View {
	return &View{metrics: m}
}

// Begin issues the sequence number for a new computation.
func (v *View) Begin() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.issued++
	return v.issued
}

// Apply stores r if seq is still the latest issued ticket and reports whether
// it did. Superseded results are dropped.
func (v *View) Apply(seq uint64, r Report) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if seq != v.issued || seq <= v.applied {
		v.metrics.StaleReportDropped()
		return false
	}
	v.current = r
	v.applied = seq
	v.ready = true
	return true
}

// Current returns the applied report and its sequence number. ok is false until
// the first Apply succeeds.
func (v *View) Current() (r Report, seq uint64, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.applied, v.ready
}

// Latest returns the most recently issued sequence number.
func (v *View) Latest() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.issued
}
