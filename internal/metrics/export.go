package metrics

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"
)

// Model calls take seconds; these bounds rate the average latency.
const (
	slowAverage     = 20 * time.Second
	criticalAverage = 60 * time.Second
)

// Snapshot copies every metric, keyed by path.
func (m *Manager) Snapshot() map[string]*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Snapshot, len(m.timings)+len(m.counters)+len(m.outcomes))
	for path, t := range m.timings {
		out[path] = t.snapshot(path)
	}
	for path, c := range m.counters {
		c.mu.Lock()
		out[path] = &Snapshot{Path: path, Type: TypeCounter, Health: HealthGood, Data: CounterSnapshot{Value: c.Value}}
		c.mu.Unlock()
	}
	for path, o := range m.outcomes {
		out[path] = o.snapshot(path)
	}
	return out
}

func (t *timing) snapshot(path string) *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var avg time.Duration
	if t.Count > 0 {
		avg = t.Total / time.Duration(t.Count)
	}
	health := HealthGood
	switch {
	case avg > criticalAverage:
		health = HealthCritical
	case avg > slowAverage:
		health = HealthWarning
	}

	sorted := append([]time.Duration(nil), t.Samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Snapshot{
		Path:   path,
		Type:   TypeTiming,
		Health: health,
		Data: TimingSnapshot{
			Count:  t.Count,
			AvgMs:  ms(avg),
			MinMs:  ms(t.Min),
			MaxMs:  ms(t.Max),
			LastMs: ms(t.Last),
			P95Ms:  percentile(sorted, 95),
			P99Ms:  percentile(sorted, 99),
		},
	}
}

func (o *outcome) snapshot(path string) *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	var rate float64
	if total := o.Success + o.Failures; total > 0 {
		rate = float64(o.Success) / float64(total) * 100
	}
	recent := o.recent.rate()
	if o.recent.n == 0 {
		// restored from disk with no new calls yet
		recent = rate
	}

	health := HealthCritical
	switch {
	case recent >= 95:
		health = HealthGood
	case recent >= 75:
		health = HealthWarning
	}

	reasons := make(map[string]int64, len(o.Reasons))
	for k, v := range o.Reasons {
		reasons[k] = v
	}
	return &Snapshot{
		Path:   path,
		Type:   TypeOutcome,
		Health: health,
		Data: OutcomeSnapshot{
			Success:        o.Success,
			Failures:       o.Failures,
			SuccessRate:    rate,
			RecentRate:     recent,
			FailureReasons: reasons,
		},
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// percentile reads the pth percentile from ascending samples.
func percentile(sorted []time.Duration, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return ms(sorted[idx])
}

// WriteTable prints one metric per line for the status command.
func (m *Manager) WriteTable(w io.Writer) error {
	snap := m.Snapshot()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTYPE\tHEALTH\tVALUE")
	for _, path := range m.Paths() {
		s, ok := snap[path]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", path, s.Type, s.Health, summarize(s))
	}
	return tw.Flush()
}

func summarize(s *Snapshot) string {
	switch d := s.Data.(type) {
	case TimingSnapshot:
		return fmt.Sprintf("n=%d avg=%.0fms p95=%.0fms", d.Count, d.AvgMs, d.P95Ms)
	case CounterSnapshot:
		return fmt.Sprintf("%d", d.Value)
	case OutcomeSnapshot:
		return fmt.Sprintf("ok=%d fail=%d (%.1f%%)", d.Success, d.Failures, d.SuccessRate)
	}
	return ""
}
