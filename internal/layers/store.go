// Package layers holds the toggleable globe layers. Every method runs on the
// scheduler's loop goroutine; fetches run on their own goroutines and post
// their results back.
package layers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/observability"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

// State is the lifecycle state of a layer.
type State int

const (
	Hidden State = iota
	Loading
	Visible
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "HIDDEN"
	case Loading:
		return "LOADING"
	case Visible:
		return "VISIBLE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Layer names used in logs, metrics and commands.
const (
	NameSatellites = "satellites"
	NameInSitu     = "insitu"
	NameInfra      = "infra"
	NameCables     = "cables"
	NameRegions    = "regions"
)

// Recorder receives layer metrics. observability.EngineCollector implements
// it; a nil Recorder disables recording.
type Recorder interface {
	ObserveLayerLoad(layer, outcome string, d time.Duration)
	SetLayerEntities(layer string, n int)
	AddRowsDropped(layer string, n int)
	AddCatalogDropped(reason string, n int)
	AddPropagationFailures(n int)
	AddBeeps(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLayerLoad(string, string, time.Duration) {}
func (nopRecorder) SetLayerEntities(string, int)                   {}
func (nopRecorder) AddRowsDropped(string, int)                     {}
func (nopRecorder) AddCatalogDropped(string, int)                  {}
func (nopRecorder) AddPropagationFailures(int)                     {}
func (nopRecorder) AddBeeps(int)                                   {}

// Deps are the collaborators shared by every layer.
type Deps struct {
	Sched    scheduler.Scheduler
	Log      logging.Logger
	Recorder Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	return d
}

// FetchFunc loads a layer's data. It runs off the loop goroutine and must
// honour ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Store runs the HIDDEN/LOADING/VISIBLE lifecycle for one dataset.
//
// Each fetch carries a generation number; a result whose generation is no
// longer current was cancelled or superseded and is discarded.
type Store[T any] struct {
	name  string
	deps  Deps
	fetch FetchFunc[T]
	count func(T) int

	state  State
	data   T
	gen    uint64
	cancel context.CancelFunc

	onShow []func()
	onHide []func()
}

// NewStore builds a hidden store. count reports the entity count of a
// dataset for the layer gauge.
func NewStore[T any](name string, deps Deps, fetch FetchFunc[T], count func(T) int) *Store[T] {
	return &Store[T]{
		name:  name,
		deps:  deps.withDefaults(),
		fetch: fetch,
		count: count,
	}
}

func (s *Store[T]) Name() string  { return s.name }
func (s *Store[T]) State() State  { return s.state }
func (s *Store[T]) Visible() bool { return s.state == Visible }

// Data returns the loaded dataset; the zero value unless visible.
func (s *Store[T]) Data() T { return s.data }

// OnShow registers fn to run each time a fetch completes and the layer
// becomes visible.
func (s *Store[T]) OnShow(fn func()) { s.onShow = append(s.onShow, fn) }

// OnHide registers fn to run each time a visible layer is hidden.
func (s *Store[T]) OnHide(fn func()) { s.onHide = append(s.onHide, fn) }

// Toggle steps the lifecycle: HIDDEN starts a fetch, LOADING cancels it and
// VISIBLE hides synchronously. It returns the new state.
func (s *Store[T]) Toggle(ctx context.Context) State {
	switch s.state {
	case Hidden:
		s.state = Loading
		s.start(ctx)
	case Loading:
		s.abort()
		s.state = Hidden
		s.deps.Recorder.ObserveLayerLoad(s.name, observability.LoadCancelled, 0)
		s.deps.Log.Debug(ctx, "layer load cancelled", logging.String("layer", s.name))
	case Visible:
		s.Hide()
	}
	return s.state
}

// Reload refetches a visible or loading layer, keeping the current data on
// screen until the new result lands. It is a no-op while hidden.
func (s *Store[T]) Reload(ctx context.Context) {
	if s.state == Hidden {
		return
	}
	s.abort()
	s.start(ctx)
}

// Hide clears the layer and runs the hide hooks. Hiding a loading layer
// cancels its fetch without running hooks.
func (s *Store[T]) Hide() {
	switch s.state {
	case Hidden:
		return
	case Loading:
		s.abort()
		s.state = Hidden
		return
	}
	s.abort()
	var zero T
	s.data = zero
	s.state = Hidden
	s.deps.Recorder.SetLayerEntities(s.name, 0)
	for _, fn := range s.onHide {
		fn()
	}
}

func (s *Store[T]) abort() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Store[T]) start(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	fetch := s.fetch
	go func() {
		ctx, span := observability.StartLoadSpan(ctx, s.name)
		started := time.Now()
		data, err := fetch(ctx)
		span.End(err)
		elapsed := time.Since(started)
		s.deps.Sched.Post(func() { s.finish(ctx, gen, data, err, elapsed) })
	}()
}

func (s *Store[T]) finish(ctx context.Context, gen uint64, data T, err error, elapsed time.Duration) {
	if gen != s.gen {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if err != nil {
		wasVisible := s.state == Visible
		var zero T
		s.data = zero
		s.state = Hidden
		outcome := observability.LoadError
		if errors.Is(err, context.Canceled) {
			outcome = observability.LoadCancelled
		}
		s.deps.Recorder.ObserveLayerLoad(s.name, outcome, elapsed)
		s.deps.Recorder.SetLayerEntities(s.name, 0)
		s.deps.Log.Warn(ctx, "layer load failed",
			logging.String("layer", s.name),
			logging.Duration("elapsed", elapsed),
			logging.Err(err),
		)
		if wasVisible {
			for _, fn := range s.onHide {
				fn()
			}
		}
		return
	}

	s.data = data
	s.state = Visible
	n := s.count(data)
	s.deps.Recorder.ObserveLayerLoad(s.name, observability.LoadOK, elapsed)
	s.deps.Recorder.SetLayerEntities(s.name, n)
	s.deps.Log.Info(ctx, "layer loaded",
		logging.String("layer", s.name),
		logging.Int("entities", n),
		logging.Duration("elapsed", elapsed),
	)
	for _, fn := range s.onShow {
		fn()
	}
}
