package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/globe-engine/model"
)

// DefaultCatalogCeiling bounds the working satellite catalog so per-frame
// propagation cost stays constant.
const DefaultCatalogCeiling = 2000

// Plausible geocentric radius range for propagated positions, in km.
const (
	MinOrbitRadiusKm = 6200.0
	MaxOrbitRadiusKm = 100000.0
)

// ErrUnpropagable reports an element set that yields no usable position at
// the requested instant.
var ErrUnpropagable = errors.New("element set cannot be propagated")

// PropagateFunc computes an inertial (TEME) position in km. Propagate is the
// production implementation; tests substitute their own.
type PropagateFunc func(es *model.ElementSet, at time.Time) (r3.Vector, error)

// Propagate runs SGP4 for es at the whole second containing at.
//
// go-satellite's Propagate takes the record by value and does not surface its
// error codes, so failures are detected from the output: non-finite
// components or a radius outside [MinOrbitRadiusKm, MaxOrbitRadiusKm].
func Propagate(es *model.ElementSet, at time.Time) (pos r3.Vector, err error) {
	if es == nil {
		return r3.Vector{}, ErrUnpropagable
	}
	defer func() {
		if r := recover(); r != nil {
			pos, err = r3.Vector{}, fmt.Errorf("%w: %s: %v", ErrUnpropagable, es.Name, r)
		}
	}()

	at = at.UTC()
	year, month, day := at.Date()
	hour, minute, sec := at.Clock()

	eci, _ := satellite.Propagate(es.Sat, year, int(month), day, hour, minute, sec)
	pos = r3.Vector{X: eci.X, Y: eci.Y, Z: eci.Z}

	if !finite(pos.X) || !finite(pos.Y) || !finite(pos.Z) {
		return r3.Vector{}, fmt.Errorf("%w: %s: non-finite position", ErrUnpropagable, es.Name)
	}
	if r := pos.Norm(); r < MinOrbitRadiusKm || r > MaxOrbitRadiusKm {
		return r3.Vector{}, fmt.Errorf("%w: %s: radius %.1f km", ErrUnpropagable, es.Name, r)
	}
	return pos, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FilterStats counts what FilterCatalog dropped.
type FilterStats struct {
	Unpropagable int
	Capped       int
}

// FilterCatalog keeps the element sets that propagate at the reference
// instant, then truncates to ceiling. The check happens once at load time;
// retained sets are never re-validated. A nil propagate uses Propagate and a
// non-positive ceiling uses DefaultCatalogCeiling.
func FilterCatalog(sets []*model.ElementSet, at time.Time, ceiling int, propagate PropagateFunc) ([]*model.ElementSet, FilterStats) {
	if propagate == nil {
		propagate = Propagate
	}
	if ceiling <= 0 {
		ceiling = DefaultCatalogCeiling
	}

	var stats FilterStats
	kept := make([]*model.ElementSet, 0, min(len(sets), ceiling))
	for _, es := range sets {
		if _, err := propagate(es, at); err != nil {
			stats.Unpropagable++
			continue
		}
		if len(kept) == ceiling {
			stats.Capped++
			continue
		}
		kept = append(kept, es)
	}
	return kept, stats
}
