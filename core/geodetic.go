package core

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/globe-engine/model"
)

// EarthRadiusKm is the planet radius the renderer normalises altitude
// against: an altitude of 1.0 is one radius above the surface.
const EarthRadiusKm = 6371.0

const rad2deg = 180.0 / math.Pi

// SiderealTime returns Greenwich mean sidereal time in radians at the whole
// second containing t, matching the resolution Propagate works at.
func SiderealTime(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	return satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, minute, sec))
}

// ToGeodetic converts an inertial position in km into renderer coordinates:
// latitude and longitude in degrees (longitude in [-180, 180)) and altitude
// as a fraction of EarthRadiusKm.
func ToGeodetic(pos r3.Vector, gmst float64) model.Position {
	altKm, _, ll := satellite.ECIToLLA(satellite.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z}, gmst)
	return model.Position{
		Lat: ll.Latitude * rad2deg,
		Lng: NormalizeLongitude(ll.Longitude * rad2deg),
		Alt: altKm / EarthRadiusKm,
	}
}

// NormalizeLongitude wraps a longitude in degrees into [-180, 180).
func NormalizeLongitude(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}
