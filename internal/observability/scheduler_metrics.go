package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoopCollector exposes metrics for the scheduler loop that owns engine
// state. It implements scheduler.MetricsRecorder.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	FrameCallbacks        prometheus.Counter
	FrameCallbackDuration prometheus.Histogram
	IntervalRuns          prometheus.Counter
	CallbackPanics        prometheus.Counter
}

// NewLoopCollector registers loop metrics against the provided registerer.
func NewLoopCollector(reg prometheus.Registerer) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	callbacks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_loop_frame_callbacks_total",
		Help: "Frame callbacks run by the scheduler loop.",
	}), "globe_loop_frame_callbacks_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "globe_loop_refresh_duration_seconds",
		Help:    "Time spent running all frame callbacks of one display refresh.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.025, 0.05, 0.1},
	}), "globe_loop_refresh_duration_seconds")
	if err != nil {
		return nil, err
	}

	intervals, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_loop_interval_runs_total",
		Help: "Interval callbacks fired by the scheduler loop.",
	}), "globe_loop_interval_runs_total")
	if err != nil {
		return nil, err
	}

	panics, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_loop_callback_panics_total",
		Help: "Callbacks that panicked and were recovered by the loop.",
	}), "globe_loop_callback_panics_total")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:              gatherer,
		FrameCallbacks:        callbacks,
		FrameCallbackDuration: duration,
		IntervalRuns:          intervals,
		CallbackPanics:        panics,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LoopCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveFrameCallbacks records one display refresh.
func (c *LoopCollector) ObserveFrameCallbacks(n int, d time.Duration) {
	if c == nil {
		return
	}
	if n > 0 {
		c.FrameCallbacks.Add(float64(n))
	}
	c.FrameCallbackDuration.Observe(d.Seconds())
}

// AddIntervalRuns counts fired intervals.
func (c *LoopCollector) AddIntervalRuns(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.IntervalRuns.Add(float64(n))
}

// IncCallbackPanics counts a recovered panic.
func (c *LoopCollector) IncCallbackPanics() {
	if c == nil {
		return
	}
	c.CallbackPanics.Inc()
}
