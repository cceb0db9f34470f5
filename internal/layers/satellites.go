package layers

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/globe-engine/core"
	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/model"
	"github.com/signalsfoundry/globe-engine/timectrl"
)

// Catalog drop reasons reported to the recorder.
const (
	DropMalformed    = "malformed"
	DropUnpropagable = "unpropagable"
	DropCapped       = "capped"
)

// Satellites is the propagated satellite catalog.
type Satellites struct {
	*Store[[]*model.TrackedObject]

	src       datasource.Source
	cfg       config.SatelliteConfig
	clock     timectrl.SimClock
	propagate core.PropagateFunc
	deps      Deps
}

// SatelliteOption customises the satellite layer.
type SatelliteOption func(*Satellites)

// WithPropagator replaces core.Propagate, for tests.
func WithPropagator(fn core.PropagateFunc) SatelliteOption {
	return func(s *Satellites) {
		if fn != nil {
			s.propagate = fn
		}
	}
}

// NewSatellites builds the hidden satellite layer. The load-time validity
// filter propagates at clock.Now().
func NewSatellites(src datasource.Source, cfg config.SatelliteConfig, clock timectrl.SimClock, deps Deps, opts ...SatelliteOption) *Satellites {
	s := &Satellites{
		src:       src,
		cfg:       cfg,
		clock:     clock,
		propagate: core.Propagate,
		deps:      deps.withDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Store = NewStore(NameSatellites, s.deps, s.load, func(objs []*model.TrackedObject) int { return len(objs) })
	return s
}

func (s *Satellites) load(ctx context.Context) ([]*model.TrackedObject, error) {
	rc, err := s.src.Open(ctx, s.cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer rc.Close()

	parsed, err := core.ParseCatalog(rc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	kept, stats := core.FilterCatalog(parsed.Sets, now, s.cfg.Ceiling, s.propagate)
	s.deps.Recorder.AddCatalogDropped(DropMalformed, parsed.Malformed)
	s.deps.Recorder.AddCatalogDropped(DropUnpropagable, stats.Unpropagable)
	s.deps.Recorder.AddCatalogDropped(DropCapped, stats.Capped)
	s.deps.Log.Info(ctx, "satellite catalog filtered",
		logging.Int("parsed", len(parsed.Sets)),
		logging.Int("malformed", parsed.Malformed),
		logging.Int("unpropagable", stats.Unpropagable),
		logging.Int("capped", stats.Capped),
		logging.Int("kept", len(kept)),
	)

	gmst := core.SiderealTime(now)
	objs := make([]*model.TrackedObject, 0, len(kept))
	for _, es := range kept {
		obj := s.classify(es)
		if pos, err := s.propagate(es, now); err == nil {
			obj.Pos = core.ToGeodetic(pos, gmst)
			obj.Located = true
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func (s *Satellites) classify(es *model.ElementSet) *model.TrackedObject {
	obj := &model.TrackedObject{
		Elements: es,
		Name:     es.Name,
		Color:    s.cfg.DefaultColor,
		InfoURL:  s.cfg.DefaultInfoURL + es.Name,
		Icon:     model.KindSatellite,
	}
	for _, class := range s.cfg.Classes {
		for _, name := range class.Names {
			if name == es.Name {
				obj.Color = class.Color
				obj.InfoURL = class.InfoURL
				return obj
			}
		}
	}
	return obj
}

// Objects returns the working catalog, nil unless visible.
func (s *Satellites) Objects() []*model.TrackedObject { return s.Data() }

// Update propagates every object to at and rewrites its position in place.
// Objects that fail keep their previous position. It returns the number of
// failures.
func (s *Satellites) Update(at time.Time) int {
	objs := s.Data()
	if len(objs) == 0 {
		return 0
	}
	gmst := core.SiderealTime(at)
	failures := 0
	for _, obj := range objs {
		pos, err := s.propagate(obj.Elements, at)
		if err != nil {
			failures++
			continue
		}
		obj.Pos = core.ToGeodetic(pos, gmst)
		obj.Located = true
	}
	if failures > 0 {
		s.deps.Recorder.AddPropagationFailures(failures)
	}
	return failures
}

// Find returns the object with the given name.
func (s *Satellites) Find(name string) (*model.TrackedObject, bool) {
	for _, obj := range s.Data() {
		if obj.Name == name {
			return obj, true
		}
	}
	return nil, false
}
