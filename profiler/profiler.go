// Package profiler - Stage timing for video sessions.
package profiler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	sum   float64
	min   float64
	max   float64
	count int64
}

// OperationStats summarises one named operation.
type OperationStats struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Profiler collects per-stage timings. It is safe for concurrent use.
type Profiler struct {
	mu             sync.Mutex
	startTime      time.Time
	operationTimes map[string]*TimeTracker
	customMetrics  map[string]*MetricTracker
}

// New returns an empty profiler.
func New() *Profiler {
	return &Profiler{
		startTime:      time.Now(),
		operationTimes: make(map[string]*TimeTracker),
		customMetrics:  make(map[string]*MetricTracker),
	}
}

// StartOperation begins timing an operation and returns a function to stop timing.
//
// Arguments:
// - name: Name of the operation being timed
//
// Returns:
// - A function that should be called when the operation completes
//
// @example
// stop := p.StartOperation("detect")
// frame, err := det.Detect(ctx, img)
// stop()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.recordOperationTime(name, time.Since(start))
	}
}

func (p *Profiler) recordOperationTime(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operationTimes[name]
	if !ok {
		t = &TimeTracker{minTime: d, maxTime: d}
		p.operationTimes[name] = t
	}
	t.count++
	t.totalTime += d
	t.minTime = min(t.minTime, d)
	t.maxTime = max(t.maxTime, d)
}

// RecordMetric records a value for a custom metric.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.customMetrics[name]
	if !ok {
		m = &MetricTracker{min: value, max: value}
		p.customMetrics[name] = m
	}
	m.count++
	m.sum += value
	m.min = min(m.min, value)
	m.max = max(m.max, value)
}

// Stats returns the operation statistics sorted by name.
func (p *Profiler) Stats() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]OperationStats, 0, len(p.operationTimes))
	for name, t := range p.operationTimes {
		stats = append(stats, OperationStats{
			Name:  name,
			Count: t.count,
			Total: t.totalTime,
			Min:   t.minTime,
			Max:   t.maxTime,
			Avg:   t.totalTime / time.Duration(t.count),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Metric returns the average and count of a custom metric.
func (p *Profiler) Metric(name string) (avg float64, count int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.customMetrics[name]
	if !ok || m.count == 0 {
		return 0, 0
	}
	return m.sum / float64(m.count), m.count
}

// Log writes one line per operation and custom metric.
func (p *Profiler) Log(logger *zap.Logger) {
	for _, s := range p.Stats() {
		logger.Info("stage timing",
			zap.String("stage", s.Name),
			zap.Int64("count", s.Count),
			zap.Duration("avg", s.Avg),
			zap.Duration("min", s.Min),
			zap.Duration("max", s.Max),
			zap.Duration("total", s.Total))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, m := range p.customMetrics {
		logger.Info("metric",
			zap.String("name", name),
			zap.Int64("count", m.count),
			zap.Float64("avg", m.sum/float64(m.count)),
			zap.Float64("min", m.min),
			zap.Float64("max", m.max))
	}
	logger.Debug("profiler uptime", zap.Duration("elapsed", time.Since(p.startTime)))
}
