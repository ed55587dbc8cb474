package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Call stages tracked by the latency window.
const (
	StageDial     = "dial"
	StageConnect  = "connect"
	StageAnalysis = "analysis"
)

// p95 targets in milliseconds; stages without one report zero.
var stageTargets = map[string]float64{
	StageDial:     1500,
	StageConnect:  2000,
	StageAnalysis: 8000,
}

// StageStats summarizes recent latencies of one call stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// latencyWindow keeps the most recent samples of each stage.
type latencyWindow struct {
	mu    sync.Mutex
	size  int
	rings map[string]*ring
}

type ring struct {
	samples []time.Duration
	pos     int
	last    time.Duration
}

func (r *ring) add(d time.Duration, size int) {
	r.last = d
	if len(r.samples) < size {
		r.samples = append(r.samples, d)
		return
	}
	r.samples[r.pos] = d
	r.pos = (r.pos + 1) % size
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size, rings: make(map[string]*ring)}
}

func (w *latencyWindow) Observe(stage string, d time.Duration) {
	stage = strings.TrimSpace(stage)
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{samples: make([]time.Duration, 0, w.size)}
		w.rings[stage] = r
	}
	r.add(d, w.size)
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	snap := LatencySnapshot{GeneratedAt: time.Now().UTC(), WindowSize: w.size, Stages: []StageStats{}}

	w.mu.Lock()
	for stage, r := range w.rings {
		if len(r.samples) == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarize(stage, slices.Clone(r.samples), r.last))
	}
	w.mu.Unlock()

	slices.SortFunc(snap.Stages, func(a, b StageStats) int { return strings.Compare(a.Stage, b.Stage) })
	return snap
}

func summarize(stage string, samples []time.Duration, last time.Duration) StageStats {
	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = millis(d)
		sum += ms[i]
	}
	slices.Sort(ms)
	return StageStats{
		Stage:       stage,
		Samples:     len(ms),
		LastMS:      round2(millis(last)),
		AvgMS:       round2(sum / float64(len(ms))),
		P50MS:       round2(percentile(ms, 0.50)),
		P95MS:       round2(percentile(ms, 0.95)),
		P99MS:       round2(percentile(ms, 0.99)),
		TargetP95MS: stageTargets[stage],
	}
}

func millis(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
