package model

import (
	satellite "github.com/joshuaferrara/go-satellite"
)

// Entity kinds as reported to the renderer and used for selection.
const (
	KindSatellite = "sat"
	KindSensor    = "insitu"
	KindInfra     = "infra"
)

// Position is a geodetic fix in the renderer's frame: degrees for Lat/Lng and
// altitude as a fraction of the planet radius.
type Position struct {
	Lat float64
	Lng float64
	Alt float64
}

// ElementSet is a parsed two-line element set. It is immutable once built.
type ElementSet struct {
	Name          string
	CatalogNumber string
	Line1         string
	Line2         string

	// Sat is the SGP4 record initialised by go-satellite.
	Sat satellite.Satellite
}

// TrackedObject is a satellite in the working catalog. Pos is rewritten in
// place every frame by the satellite layer.
type TrackedObject struct {
	Elements *ElementSet
	Name     string
	Pos      Position
	Color    string
	InfoURL  string
	Icon     string

	// Located is set once the object has been propagated at least once.
	Located bool
}

// Kind tags satellites for selection.
func (o *TrackedObject) Kind() string { return KindSatellite }

// Key identifies the object for selection toggling.
func (o *TrackedObject) Key() string { return o.Name }

// Moving reports that satellites move between frames.
func (o *TrackedObject) Moving() bool { return true }

// Location returns the live geodetic position.
func (o *TrackedObject) Location() (lat, lng float64, ok bool) {
	if o == nil || !o.Located {
		return 0, 0, false
	}
	return o.Pos.Lat, o.Pos.Lng, true
}
