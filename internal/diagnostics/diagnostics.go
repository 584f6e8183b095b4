// Package diagnostics records per-tick and per-phase timing samples in a
// bounded ring and produces windowed percentile reports, hotspot rankings,
// and slow-tick/memory-pressure warnings. Nothing here ever changes
// scheduling or simulation behavior — it is observability only.
package diagnostics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/internal/ringbuffer"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Phase is one of the tick's timed sub-steps.
type Phase string

const (
	PhaseMatching           Phase = "matching"
	PhaseProduction         Phase = "production"
	PhaseCompetitorDecision Phase = "competitor_decision"
	PhaseStockMarket        Phase = "stock_market"
	PhaseSnapshotEmit       Phase = "snapshot_emit"
)

var allPhases = []Phase{PhaseMatching, PhaseProduction, PhaseCompetitorDecision, PhaseStockMarket, PhaseSnapshotEmit}

// TickSample is one tick's full timing and memory record.
type TickSample struct {
	Tick      uint64
	Total     time.Duration
	Phases    map[Phase]time.Duration
	SlowTick  bool
	Memory    observability.MemorySnapshot
}

// Recorder accumulates phase timings across one tick before being handed to
// Collector.Finish.
type Recorder struct {
	tick        uint64
	totalStart  time.Time
	phaseStarts map[Phase]time.Time
	phases      map[Phase]time.Duration
}

// PhaseStart marks the beginning of one phase within the current tick.
func (r *Recorder) PhaseStart(p Phase) {
	r.phaseStarts[p] = time.Now()
}

// PhaseEnd marks the end of a phase started with PhaseStart. Calling it
// without a matching PhaseStart is a no-op.
func (r *Recorder) PhaseEnd(p Phase) {
	start, ok := r.phaseStarts[p]
	if !ok {
		return
	}
	r.phases[p] += time.Since(start)
	delete(r.phaseStarts, p)
}

// Config holds the diagnostics collector's thresholds.
type Config struct {
	RingCapacity         int
	P95WarningThreshold  time.Duration
	PhaseHotspotFraction float64 // e.g. 0.4 => warn if one phase is >40% of total
}

// Collector owns the bounded ring of tick samples.
type Collector struct {
	cfg     Config
	logger  *observability.Logger
	perf    *observability.PerformanceLogger
	samples *ringbuffer.Buffer[TickSample]
}

// New constructs a Collector with the given ring capacity.
func New(cfg Config, logger *observability.Logger) (*Collector, error) {
	buf, err := ringbuffer.New[TickSample](cfg.RingCapacity)
	if err != nil {
		return nil, errs.Wrap("diagnostics.new", err)
	}
	return &Collector{cfg: cfg, logger: logger, perf: observability.NewPerformanceLogger(logger), samples: buf}, nil
}

// Begin starts timing a new tick.
func (c *Collector) Begin(tick uint64) *Recorder {
	return &Recorder{
		tick:        tick,
		totalStart:  time.Now(),
		phaseStarts: make(map[Phase]time.Time),
		phases:      make(map[Phase]time.Duration),
	}
}

// Finish records the completed tick's total duration and phase breakdown,
// flagging it as slow when the caller passes slow = true.
func (c *Collector) Finish(ctx context.Context, r *Recorder, slow bool) TickSample {
	sample := TickSample{
		Tick:     r.tick,
		Total:    time.Since(r.totalStart),
		Phases:   r.phases,
		SlowTick: slow,
		Memory:   observability.ReadMemorySnapshot(),
	}
	c.samples.Push(sample)

	fields := map[string]interface{}{"tick": r.tick}
	c.perf.LogDuration(ctx, "tick", sample.Total, fields)
	c.perf.LogSlowOperation(ctx, "tick", sample.Total, c.cfg.P95WarningThreshold, fields)

	return sample
}

// PhaseStat summarizes one phase's contribution across a report window.
type PhaseStat struct {
	Avg        time.Duration
	Max        time.Duration
	Total      time.Duration
	Percentage float64
}

// Report is the output of generate_report(window).
type Report struct {
	SampleCount    int
	TickAvg        time.Duration
	TickMin        time.Duration
	TickMax        time.Duration
	P50, P95, P99  time.Duration
	StdDev         time.Duration
	SlowTickCount  int
	PhaseStats     map[Phase]PhaseStat
	Hotspots       []Phase // ranked by total time, descending
	MemoryTrend    string  // "increasing", "decreasing", "stable"
	GCPressure     string  // "low", "moderate", "high"
	Warnings       []string
}

// GenerateReport produces a windowed report over the last n samples (or all
// available samples if n <= 0 or exceeds the ring's current size).
func (c *Collector) GenerateReport(n int) Report {
	samples := c.samples.ToSlice()
	if n > 0 && n < len(samples) {
		samples = samples[len(samples)-n:]
	}

	report := Report{SampleCount: len(samples), PhaseStats: make(map[Phase]PhaseStat)}
	if len(samples) == 0 {
		report.MemoryTrend = "stable"
		report.GCPressure = "low"
		return report
	}

	durations := make([]time.Duration, len(samples))
	var total, min, max time.Duration
	min = samples[0].Total
	phaseTotal := make(map[Phase]time.Duration)
	phaseMax := make(map[Phase]time.Duration)

	for i, s := range samples {
		durations[i] = s.Total
		total += s.Total
		if s.Total < min {
			min = s.Total
		}
		if s.Total > max {
			max = s.Total
		}
		if s.SlowTick {
			report.SlowTickCount++
		}
		for _, p := range allPhases {
			d := s.Phases[p]
			phaseTotal[p] += d
			if d > phaseMax[p] {
				phaseMax[p] = d
			}
		}
	}

	report.TickAvg = total / time.Duration(len(samples))
	report.TickMin = min
	report.TickMax = max
	report.StdDev = stdDev(durations, report.TickAvg)

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	report.P50 = percentile(sorted, 0.50)
	report.P95 = percentile(sorted, 0.95)
	report.P99 = percentile(sorted, 0.99)

	for _, p := range allPhases {
		pct := 0.0
		if total > 0 {
			pct = float64(phaseTotal[p]) / float64(total)
		}
		report.PhaseStats[p] = PhaseStat{
			Avg:        phaseTotal[p] / time.Duration(len(samples)),
			Max:        phaseMax[p],
			Total:      phaseTotal[p],
			Percentage: pct,
		}
	}

	hotspots := append([]Phase(nil), allPhases...)
	sort.Slice(hotspots, func(i, j int) bool { return phaseTotal[hotspots[i]] > phaseTotal[hotspots[j]] })
	report.Hotspots = hotspots

	report.MemoryTrend = memoryTrend(samples)
	report.GCPressure = gcPressure(samples)

	if c.cfg.P95WarningThreshold > 0 && report.P95 > c.cfg.P95WarningThreshold {
		report.Warnings = append(report.Warnings, "p95 tick duration exceeds threshold")
	}
	fraction := c.cfg.PhaseHotspotFraction
	if fraction <= 0 {
		fraction = 0.4
	}
	for _, p := range allPhases {
		if report.PhaseStats[p].Percentage > fraction {
			report.Warnings = append(report.Warnings, "phase "+string(p)+" exceeds hotspot fraction of total tick time")
		}
	}

	return report
}

func stdDev(durations []time.Duration, avg time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sumSq float64
	for _, d := range durations {
		diff := float64(d - avg)
		sumSq += diff * diff
	}
	variance := sumSq / float64(len(durations))
	return time.Duration(math.Sqrt(variance))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// memoryTrend compares the first and second half of the window's heap-alloc
// readings to produce a rough directional signal.
func memoryTrend(samples []TickSample) string {
	if len(samples) < 4 {
		return "stable"
	}
	mid := len(samples) / 2
	var firstAvg, secondAvg float64
	for _, s := range samples[:mid] {
		firstAvg += float64(s.Memory.HeapAllocBytes)
	}
	firstAvg /= float64(mid)
	for _, s := range samples[mid:] {
		secondAvg += float64(s.Memory.HeapAllocBytes)
	}
	secondAvg /= float64(len(samples) - mid)

	if firstAvg == 0 {
		return "stable"
	}
	change := (secondAvg - firstAvg) / firstAvg
	switch {
	case change > 0.1:
		return "increasing"
	case change < -0.1:
		return "decreasing"
	default:
		return "stable"
	}
}

// gcPressure gives a rough indicator from the GC count delta across the
// window relative to its sample count.
func gcPressure(samples []TickSample) string {
	if len(samples) < 2 {
		return "low"
	}
	first := samples[0].Memory.NumGC
	last := samples[len(samples)-1].Memory.NumGC
	delta := last - first
	rate := float64(delta) / float64(len(samples))
	switch {
	case rate > 0.5:
		return "high"
	case rate > 0.1:
		return "moderate"
	default:
		return "low"
	}
}
