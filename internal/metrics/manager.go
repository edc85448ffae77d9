// Package metrics records per-model latencies, outcomes and counters, with
// optional SQLite persistence.
package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Manager holds all metrics, keyed by "topic/function" paths such as
// "llm/openai/gpt-4o/request". Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	timings  map[string]*timing
	counters map[string]*counter
	outcomes map[string]*outcome

	db       *sql.DB
	stopSave chan struct{}
	saveWG   sync.WaitGroup
}

// New creates an in-memory manager. Call Open to enable persistence.
func New() *Manager {
	return &Manager{
		timings:  make(map[string]*timing),
		counters: make(map[string]*counter),
		outcomes: make(map[string]*outcome),
	}
}

func join(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// entry returns table[path], creating it with mk under the write lock.
func entry[T any](m *Manager, table map[string]*T, path string, mk func() *T) *T {
	m.mu.RLock()
	e, ok := table[path]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = table[path]; !ok {
		e = mk()
		table[path] = e
	}
	return e
}

func newTiming() *timing   { return &timing{Samples: make([]time.Duration, 0, 16)} }
func newCounter() *counter { return &counter{} }
func newOutcome() *outcome { return &outcome{Reasons: make(map[string]int64)} }

// RecordDuration adds one latency sample.
func (m *Manager) RecordDuration(topic, function string, d time.Duration) {
	t := entry(m, m.timings, join(topic, function), newTiming)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Count == 0 || d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
	t.Count++
	t.Total += d
	t.Last = d

	if len(t.Samples) < samplesKept {
		t.Samples = append(t.Samples, d)
		return
	}
	t.Samples[t.next] = d
	t.next = (t.next + 1) % samplesKept
}

// IncrementCounter adds one to a counter.
func (m *Manager) IncrementCounter(topic, function string) {
	m.AddCounter(topic, function, 1)
}

// AddCounter adds delta to a counter.
func (m *Manager) AddCounter(topic, function string, delta int64) {
	c := entry(m, m.counters, join(topic, function), newCounter)

	c.mu.Lock()
	c.Value += delta
	c.Updated = time.Now()
	c.mu.Unlock()
}

// RecordSuccess counts a successful operation.
func (m *Manager) RecordSuccess(topic, function string) {
	o := entry(m, m.outcomes, join(topic, function), newOutcome)

	o.mu.Lock()
	o.Success++
	o.LastSuccess = time.Now()
	o.recent.push(true)
	o.mu.Unlock()
}

// RecordFailure counts a failed operation. An empty reason is counted but
// not itemised.
func (m *Manager) RecordFailure(topic, function, reason string) {
	o := entry(m, m.outcomes, join(topic, function), newOutcome)

	o.mu.Lock()
	o.Failures++
	o.LastFailure = time.Now()
	if reason != "" {
		o.Reasons[reason]++
	}
	o.recent.push(false)
	o.mu.Unlock()
}

// Counter returns a counter's value, 0 if it was never touched.
func (m *Manager) Counter(topic, function string) int64 {
	m.mu.RLock()
	c, ok := m.counters[join(topic, function)]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Value
}

// Paths returns every known metric path, sorted.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.timings)+len(m.counters)+len(m.outcomes))
	for p := range m.timings {
		out = append(out, p)
	}
	for p := range m.counters {
		out = append(out, p)
	}
	for p := range m.outcomes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
