package cachekit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects operation counters and latency aggregates for one
// Manager. Counters are atomic; latency min/max/avg are kept per operation
// under a small mutex. External monitoring collaborators read snapshots via
// Stats and never mutate state.
type Metrics struct {
	gets          atomic.Int64
	sets          atomic.Int64
	deletes       atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	invalidations atomic.Int64

	mu      sync.Mutex
	latency map[string]*latencySample
}

type latencySample struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// LatencyStats is a read-only latency aggregate for one operation.
type LatencyStats struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Stats is a point-in-time snapshot of all counters.
type Stats struct {
	Gets          int64
	Sets          int64
	Deletes       int64
	Hits          int64
	Misses        int64
	Errors        int64
	Invalidations int64
	Evictions     int64
	HitRate       float64
	Latency       map[string]LatencyStats
}

func newMetrics() *Metrics {
	return &Metrics{latency: make(map[string]*latencySample)}
}

func (m *Metrics) recordGet(hit bool, d time.Duration) {
	m.gets.Add(1)
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.observe("get", d)
}

func (m *Metrics) recordSet(d time.Duration) {
	m.sets.Add(1)
	m.observe("set", d)
}

func (m *Metrics) recordDelete(d time.Duration) {
	m.deletes.Add(1)
	m.observe("delete", d)
}

func (m *Metrics) recordError() {
	m.errors.Add(1)
}

// AddInvalidations bumps the invalidation counter. Called by the
// invalidation engine after each completed pass.
func (m *Metrics) AddInvalidations(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidations.Add(n)
}

func (m *Metrics) observe(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.latency[op]
	if !ok {
		s = &latencySample{min: d, max: d}
		m.latency[op] = s
	}
	s.count++
	s.total += d
	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
}

// Snapshot returns the current counter values. evictions is supplied by the
// caller because only the backend knows it.
func (m *Metrics) snapshot(evictions int64) Stats {
	st := Stats{
		Gets:          m.gets.Load(),
		Sets:          m.sets.Load(),
		Deletes:       m.deletes.Load(),
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Errors:        m.errors.Load(),
		Invalidations: m.invalidations.Load(),
		Evictions:     evictions,
		Latency:       make(map[string]LatencyStats),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for op, s := range m.latency {
		ls := LatencyStats{Count: s.count, Min: s.min, Max: s.max}
		if s.count > 0 {
			ls.Avg = s.total / time.Duration(s.count)
		}
		st.Latency[op] = ls
	}
	return st
}
