// Package engine wires the clock, layers, selection and renderer output into
// a single frame loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/layers"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/render"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
	"github.com/signalsfoundry/globe-engine/internal/selection"
	"github.com/signalsfoundry/globe-engine/model"
	"github.com/signalsfoundry/globe-engine/timectrl"
)

var (
	ErrUnknownLayer   = errors.New("unknown layer")
	ErrUnknownTarget  = errors.New("unknown selection target")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidTime    = errors.New("invalid time")
)

// Recorder receives engine metrics. observability.EngineCollector
// implements it.
type Recorder interface {
	layers.Recorder
	ObserveFrame(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLayerLoad(string, string, time.Duration) {}
func (nopRecorder) SetLayerEntities(string, int)                   {}
func (nopRecorder) AddRowsDropped(string, int)                     {}
func (nopRecorder) AddCatalogDropped(string, int)                  {}
func (nopRecorder) AddPropagationFailures(int)                     {}
func (nopRecorder) AddBeeps(int)                                   {}
func (nopRecorder) ObserveFrame(time.Duration)                     {}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetricsRecorder wires engine metrics.
func WithMetricsRecorder(rec Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.rec = rec
		}
	}
}

// WithAdapter replaces the v1 renderer adapter.
func WithAdapter(a render.Adapter) Option {
	return func(e *Engine) {
		if a != nil {
			e.adapter = a
		}
	}
}

// WithSatelliteOptions forwards options to the satellite layer.
func WithSatelliteOptions(opts ...layers.SatelliteOption) Option {
	return func(e *Engine) { e.satOpts = append(e.satOpts, opts...) }
}

// WithBeeperOptions forwards options to the in-situ beeper.
func WithBeeperOptions(opts ...layers.BeeperOption) Option {
	return func(e *Engine) { e.beeperOpts = append(e.beeperOpts, opts...) }
}

// StopFunc cancels the frame loop. It must run on the loop goroutine.
type StopFunc func()

// Engine owns all simulation state. Apply, Start and Snapshot run on the
// scheduler's loop goroutine; Submit is safe from anywhere.
type Engine struct {
	cfg     config.Config
	sched   scheduler.Scheduler
	clock   *timectrl.Clock
	log     logging.Logger
	rec     Recorder
	adapter render.Adapter
	frames  *render.FrameStore

	Satellites *layers.Satellites
	InSitu     *layers.InSitu
	Infra      *layers.Infra
	Cables     *layers.Cables
	Regions    *layers.Regions
	Beeper     *layers.Beeper

	camera   *render.CameraState
	follower *selection.Follower

	// restoreAlt is the altitude to return to once an infrastructure node
	// stops being selected; zero when none is.
	restoreAlt float64

	satOpts    []layers.SatelliteOption
	beeperOpts []layers.BeeperOption

	ctx     context.Context
	seq     uint64
	frameID scheduler.ID
	running bool
}

// New builds an engine with every layer hidden.
func New(cfg config.Config, src datasource.Source, sched scheduler.Scheduler, clock *timectrl.Clock, frames *render.FrameStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		sched:   sched,
		clock:   clock,
		log:     logging.Noop(),
		rec:     nopRecorder{},
		adapter: render.NewV1(cfg),
		frames:  frames,
		camera:  render.NewCameraState(cfg.Camera.InitialAltitude),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.frames == nil {
		e.frames = render.NewFrameStore()
	}

	deps := layers.Deps{Sched: sched, Log: e.log, Recorder: e.rec}
	e.Satellites = layers.NewSatellites(src, cfg.Satellites, clock, deps, e.satOpts...)
	e.InSitu = layers.NewInSitu(src, cfg.InSitu, cfg.Palette, deps)
	e.Infra = layers.NewInfra(src, cfg.Infra, cfg.Palette, deps)
	e.Cables = layers.NewCables(src, cfg.Cables, cfg.Palette, deps)
	e.Regions = layers.NewRegions(src, cfg.Regions, cfg.Palette, deps)
	e.Beeper = layers.NewBeeper(sched, e.InSitu.Sensors, cfg.InSitu.BeepInterval, cfg.InSitu.BeepCount, e.rec, e.beeperOpts...)
	e.Beeper.AttachTo(e.InSitu)

	e.follower = selection.NewFollower(sched, e.camera)
	e.Satellites.OnHide(func() { e.unselectKind(model.KindSatellite) })
	e.InSitu.OnHide(func() { e.unselectKind(model.KindSensor) })
	e.Infra.OnHide(func() { e.unselectKind(model.KindInfra) })
	return e
}

// Frames returns the store frames are published to.
func (e *Engine) Frames() *render.FrameStore { return e.frames }

// Clock returns the simulation clock.
func (e *Engine) Clock() *timectrl.Clock { return e.clock }

// Follower returns the selection follower.
func (e *Engine) Follower() *selection.Follower { return e.follower }

// Start toggles the configured initial layers and schedules the
// self-rescheduling frame loop. ctx bounds layer fetches.
func (e *Engine) Start(ctx context.Context) StopFunc {
	if ctx != nil {
		e.ctx = ctx
	}
	for _, name := range e.cfg.InitialLayers {
		if l, ok := e.layer(name); ok && l.State() == layers.Hidden {
			l.Toggle(e.ctx)
		}
	}
	e.running = true
	e.frameID = e.sched.RequestFrame(e.frame)
	e.log.Info(e.ctx, "frame loop started",
		logging.String("clock", e.clock.Display()),
		logging.Float("multiplier", e.clock.Multiplier()),
	)
	return func() {
		e.running = false
		e.sched.Cancel(e.frameID)
		e.frameID = ""
	}
}

// Running reports whether the frame loop is scheduled.
func (e *Engine) Running() bool { return e.running }

func (e *Engine) frame() {
	e.frameID = ""
	if !e.running {
		return
	}
	started := time.Now()
	now := e.clock.Tick()
	if e.Satellites.Visible() {
		e.Satellites.Update(now)
	}
	e.publish()
	e.rec.ObserveFrame(time.Since(started))
	e.frameID = e.sched.RequestFrame(e.frame)
}

func (e *Engine) publish() {
	if err := e.frames.Publish(e.adapter.Render(e.Snapshot())); err != nil {
		e.log.Warn(e.ctx, "publish frame failed", logging.Err(err))
	}
}

// Snapshot captures the current state for the renderer adapter.
func (e *Engine) Snapshot() render.Snapshot {
	e.seq++
	s := render.Snapshot{
		Seq:             e.seq,
		Time:            e.clock.Now(),
		Clock:           e.clock.Display(),
		Frozen:          e.clock.State() == timectrl.Frozen,
		Multiplier:      e.clock.Multiplier(),
		Camera:          e.camera.View(),
		AutoRotateSpeed: e.clock.AutoRotateSpeed(),
		Layers: map[string]layers.State{
			layers.NameSatellites: e.Satellites.State(),
			layers.NameInSitu:     e.InSitu.State(),
			layers.NameInfra:      e.Infra.State(),
			layers.NameCables:     e.Cables.State(),
			layers.NameRegions:    e.Regions.State(),
		},
		Groups:         e.Infra.Groups(),
		Satellites:     e.Satellites.Objects(),
		Sensors:        e.InSitu.Latest(),
		Infra:          e.Infra.Nodes(),
		Routes:         e.Infra.Routes(),
		Pulses:         e.Beeper.Pulses(),
		Cables:         e.Cables.Items(),
		Regions:        e.Regions.Items(),
		RegionAltitude: e.Regions.Altitude,
	}
	if t := e.follower.Selected(); t != nil {
		s.Selected = t.Key()
	}
	return s
}

type toggler interface {
	Toggle(ctx context.Context) layers.State
	State() layers.State
}

func (e *Engine) layer(name string) (toggler, bool) {
	switch name {
	case layers.NameSatellites:
		return e.Satellites, true
	case layers.NameInSitu:
		return e.InSitu, true
	case layers.NameInfra:
		return e.Infra, true
	case layers.NameCables:
		return e.Cables, true
	case layers.NameRegions:
		return e.Regions, true
	default:
		return nil, false
	}
}

// Submit runs cmd on the loop goroutine and waits for the result.
func (e *Engine) Submit(ctx context.Context, cmd render.Command) error {
	done := make(chan error, 1)
	e.sched.Post(func() { done <- e.Apply(ctx, cmd) })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply executes cmd. It must run on the loop goroutine.
func (e *Engine) Apply(ctx context.Context, cmd render.Command) error {
	switch cmd.Type {
	case render.CmdToggleLayer:
		l, ok := e.layer(cmd.Layer)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLayer, cmd.Layer)
		}
		state := l.Toggle(e.ctx)
		e.log.Debug(ctx, "layer toggled", logging.String("layer", cmd.Layer), logging.String("state", state.String()))
	case render.CmdToggleGroup:
		if _, err := e.Infra.ToggleGroup(e.ctx, cmd.Group); err != nil {
			return err
		}
	case render.CmdToggleFreeze:
		state := e.clock.ToggleFreeze()
		e.log.Info(ctx, "clock toggled", logging.String("state", state.String()))
	case render.CmdSelect:
		t, err := e.target(cmd.Kind, cmd.Key)
		if err != nil {
			return err
		}
		e.Select(t)
	case render.CmdUnselect:
		e.Unselect()
	case render.CmdSetMultiplier:
		if err := e.clock.SetMultiplier(cmd.Multiplier); err != nil {
			return err
		}
	case render.CmdSetTime:
		at, err := time.Parse(time.RFC3339, cmd.Time)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTime, err)
		}
		if err := e.clock.SetTime(at); err != nil {
			return err
		}
		e.log.Info(ctx, "clock jumped", logging.String("time", e.clock.Display()))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// Select toggles selection of t, framing infrastructure nodes at their
// fixed altitude.
func (e *Engine) Select(t selection.Target) {
	e.follower.Select(t)
	e.frameSelection()
}

// Unselect clears the selection.
func (e *Engine) Unselect() {
	e.follower.Unselect()
	e.frameSelection()
}

// frameSelection moves the camera to the infrastructure altitude while a
// node is selected and back to the previous altitude afterwards.
func (e *Engine) frameSelection() {
	t := e.follower.Selected()
	infra := t != nil && t.Kind() == model.KindInfra
	switch {
	case infra && e.restoreAlt == 0:
		e.restoreAlt = e.camera.View().Altitude
		e.camera.SetAltitude(e.cfg.Camera.InfraAltitude)
	case !infra && e.restoreAlt != 0:
		e.camera.SetAltitude(e.restoreAlt)
		e.restoreAlt = 0
	}
}

func (e *Engine) target(kind, key string) (selection.Target, error) {
	var (
		t  selection.Target
		ok bool
	)
	switch kind {
	case model.KindSatellite:
		t, ok = e.Satellites.Find(key)
	case model.KindSensor:
		t, ok = e.InSitu.Find(key)
	case model.KindInfra:
		t, ok = e.Infra.Find(key)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownTarget, kind, key)
	}
	return t, nil
}

func (e *Engine) unselectKind(kind string) {
	if t := e.follower.Selected(); t != nil && t.Kind() == kind {
		e.Unselect()
	}
}

// NewClock builds the simulation clock from cfg. now is used when no start
// instant is configured.
func NewClock(cfg config.Config, now time.Time) *timectrl.Clock {
	opts := []timectrl.Option{
		timectrl.WithStep(cfg.Clock.Step),
		timectrl.WithMultiplier(cfg.Clock.Multiplier),
	}
	if cfg.Clock.LiveMultiplier {
		opts = append(opts, timectrl.WithLiveMultiplier())
	}
	return timectrl.NewClock(cfg.StartTime(now), opts...)
}

// Camera returns the current point of view.
func (e *Engine) Camera() render.CameraView { return e.camera.View() }
