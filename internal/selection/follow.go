// Package selection tracks the selected entity and keeps the camera on it.
package selection

import (
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

// Target is anything that can be selected.
type Target interface {
	// Kind and Key identify the target; selecting the same target twice
	// unselects it.
	Kind() string
	Key() string
	// Moving targets are re-read every frame.
	Moving() bool
	// Location is the target's current geodetic position. ok is false when
	// it has none yet.
	Location() (lat, lng float64, ok bool)
}

// Camera is the renderer's point of view.
type Camera interface {
	PointOfView(lat, lng float64)
}

// Follower holds at most one selected target. For moving targets it keeps a
// single self-rescheduling frame callback that recenters the camera. All
// methods run on the loop goroutine.
type Follower struct {
	sched  scheduler.Scheduler
	camera Camera

	target Target
	handle scheduler.ID
}

// NewFollower builds an idle follower.
func NewFollower(sched scheduler.Scheduler, camera Camera) *Follower {
	return &Follower{sched: sched, camera: camera}
}

// Select toggles t: selecting the current target unselects it. Otherwise any
// previous follow is cancelled before the camera is recentred on t.
func (f *Follower) Select(t Target) {
	if t == nil {
		f.Unselect()
		return
	}
	if f.target != nil && f.target.Kind() == t.Kind() && f.target.Key() == t.Key() {
		f.Unselect()
		return
	}

	f.cancel()
	f.target = t
	f.recenter()
	if t.Moving() {
		f.handle = f.sched.RequestFrame(f.follow)
	}
}

// Unselect clears the selection and stops following. It is idempotent.
func (f *Follower) Unselect() {
	f.cancel()
	f.target = nil
}

// Selected returns the current target, or nil.
func (f *Follower) Selected() Target { return f.target }

// Active reports whether a follow frame callback is outstanding.
func (f *Follower) Active() bool { return f.handle != "" }

func (f *Follower) cancel() {
	if f.handle != "" {
		f.sched.Cancel(f.handle)
		f.handle = ""
	}
}

func (f *Follower) follow() {
	f.handle = ""
	if f.target == nil {
		return
	}
	f.recenter()
	f.handle = f.sched.RequestFrame(f.follow)
}

func (f *Follower) recenter() {
	if lat, lng, ok := f.target.Location(); ok {
		f.camera.PointOfView(lat, lng)
	}
}
