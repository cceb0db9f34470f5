package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/logging"
)

// DefaultFrameInterval approximates a 60 Hz display refresh.
const DefaultFrameInterval = time.Second / 60

const postBuffer = 256

// MetricsRecorder receives loop statistics. observability.LoopCollector
// implements it.
type MetricsRecorder interface {
	ObserveFrameCallbacks(n int, d time.Duration)
	AddIntervalRuns(n int)
	IncCallbackPanics()
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithFrameInterval overrides the display refresh period.
func WithFrameInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.frameInterval = d
		}
	}
}

// WithLogger attaches a logger for recovered callback panics.
func WithLogger(log logging.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetricsRecorder wires loop statistics into a recorder.
func WithMetricsRecorder(m MetricsRecorder) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// Loop is the single goroutine that owns engine state. Everything that
// touches layers, the clock or the selection runs inside one of its
// callbacks; other goroutines hand work over with Post.
type Loop struct {
	q             *queue
	frameInterval time.Duration
	log           logging.Logger
	metrics       MetricsRecorder

	posts chan func()

	startOnce sync.Once
	done      chan struct{}
}

// NewLoop constructs a loop. Call Run to start it.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		q:             newQueue(),
		frameInterval: DefaultFrameInterval,
		log:           logging.Noop(),
		posts:         make(chan func(), postBuffer),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Scheduler = (*Loop)(nil)

// Run drives the loop until ctx is cancelled. Posted work and frame
// callbacks never run concurrently with each other.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("scheduler loop already started")
	}
	defer close(l.done)

	ticker := time.NewTicker(l.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.posts:
			l.safeRun(ctx, fn)
		case <-ticker.C:
			if n := l.q.runDue(time.Now(), func(fn func()) { l.safeRun(ctx, fn) }); n > 0 && l.metrics != nil {
				l.metrics.AddIntervalRuns(n)
			}
			start := time.Now()
			n := l.q.runFrame(func(fn func()) { l.safeRun(ctx, fn) })
			if l.metrics != nil {
				l.metrics.ObserveFrameCallbacks(n, time.Since(start))
			}
		}
	}
}

func (l *Loop) safeRun(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error(ctx, "scheduler callback panicked", logging.Any("panic", r))
			if l.metrics != nil {
				l.metrics.IncCallbackPanics()
			}
		}
	}()
	fn()
}

// Post queues fn for the loop goroutine. After Run returns, posted work is
// dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.posts <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to finish. It returns ctx.Err()
// when ctx ends first or the loop has stopped.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.posts <- wrapped:
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) RequestFrame(fn func()) ID { return l.q.requestFrame(fn) }

func (l *Loop) SetInterval(d time.Duration, fn func()) ID {
	return l.q.setInterval(time.Now(), d, fn)
}

func (l *Loop) Cancel(id ID) { l.q.cancel(id) }

func (l *Loop) Now() time.Time { return time.Now() }

// PendingFrames reports outstanding frame callbacks.
func (l *Loop) PendingFrames() int { return l.q.pendingFrames() }

// PendingIntervals reports live intervals.
func (l *Loop) PendingIntervals() int { return l.q.pendingIntervals() }
