package model

import (
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// Cable is a submarine cable route loaded verbatim from a feature collection.
type Cable struct {
	Name    string
	Color   string
	Feature *geojson.Feature
}

// Region is a maritime region polygon loaded verbatim from a feature
// collection. Title keys the display palette.
type Region struct {
	Title   string
	Color   string
	Feature *geojson.Feature
}

// Pulse is a transient ring emitted by the in-situ beeper.
type Pulse struct {
	ID               string
	Lat              float64
	Lng              float64
	Color            string
	MaxRadius        float64
	PropagationSpeed float64
	RepeatPeriod     time.Duration
}
