package metrics

import (
	"sync"
	"time"
)

// Type names the shape of a metric.
type Type string

const (
	TypeTiming  Type = "timing"
	TypeCounter Type = "counter"
	TypeOutcome Type = "outcome"
)

// Health is a traffic-light rating derived from a metric's recent values.
type Health int

const (
	HealthGood Health = iota
	HealthWarning
	HealthCritical
)

func (h Health) String() string {
	switch h {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	default:
		return "critical"
	}
}

func (h Health) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// samplesKept bounds the ring used for percentiles.
const samplesKept = 1000

// timing is a latency series. Exported fields are what gets persisted.
type timing struct {
	mu      sync.Mutex
	Count   int64           `json:"count"`
	Total   time.Duration   `json:"total"`
	Min     time.Duration   `json:"min"`
	Max     time.Duration   `json:"max"`
	Last    time.Duration   `json:"last"`
	Samples []time.Duration `json:"samples,omitempty"`
	next    int
}

type counter struct {
	mu      sync.Mutex
	Value   int64     `json:"value"`
	Updated time.Time `json:"updated"`
}

// outcome counts successes and failures, with failure reasons such as
// "rate_limit" or "unavailable".
type outcome struct {
	mu          sync.Mutex
	Success     int64            `json:"success"`
	Failures    int64            `json:"failures"`
	LastSuccess time.Time        `json:"lastSuccess"`
	LastFailure time.Time        `json:"lastFailure"`
	Reasons     map[string]int64 `json:"reasons,omitempty"`
	recent      window
}

// window remembers the last len(buf) outcomes. It is not persisted, so a
// restart starts the recent rate afresh.
type window struct {
	buf [100]bool
	pos int
	n   int
}

func (w *window) push(ok bool) {
	w.buf[w.pos] = ok
	w.pos = (w.pos + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// rate is the percentage of successes in the window, 0 when empty.
func (w *window) rate() float64 {
	if w.n == 0 {
		return 0
	}
	ok := 0
	for i := 0; i < w.n; i++ {
		if w.buf[i] {
			ok++
		}
	}
	return float64(ok) / float64(w.n) * 100
}

// Snapshot is a point-in-time copy of one metric.
type Snapshot struct {
	Path   string `json:"path"`
	Type   Type   `json:"type"`
	Health Health `json:"health"`
	Data   any    `json:"data"`
}

type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avgMs"`
	MinMs  float64 `json:"minMs"`
	MaxMs  float64 `json:"maxMs"`
	LastMs float64 `json:"lastMs"`
	P95Ms  float64 `json:"p95Ms,omitempty"`
	P99Ms  float64 `json:"p99Ms,omitempty"`
}

type CounterSnapshot struct {
	Value int64 `json:"value"`
}

type OutcomeSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"successRate"`
	RecentRate     float64          `json:"recentRate"`
	FailureReasons map[string]int64 `json:"failureReasons,omitempty"`
}
