package layers

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/globe-engine/internal/scheduler"
	"github.com/signalsfoundry/globe-engine/model"
)

// Rand is the randomness the beeper draws from. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// Beeper emits decorative pulses at random in-situ sensors. Each interval
// replaces the whole pulse set.
type Beeper struct {
	sched    scheduler.Scheduler
	sensors  func() []*model.Sensor
	interval time.Duration
	count    int
	rng      Rand
	newID    func() string
	rec      Recorder

	id     scheduler.ID
	pulses []model.Pulse
}

// BeeperOption customises a Beeper.
type BeeperOption func(*Beeper)

// WithRand injects the random source.
func WithRand(r Rand) BeeperOption {
	return func(b *Beeper) {
		if r != nil {
			b.rng = r
		}
	}
}

// WithIDs injects the pulse id generator.
func WithIDs(fn func() string) BeeperOption {
	return func(b *Beeper) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// NewBeeper builds a stopped beeper drawing from sensors.
func NewBeeper(sched scheduler.Scheduler, sensors func() []*model.Sensor, interval time.Duration, count int, rec Recorder, opts ...BeeperOption) *Beeper {
	if rec == nil {
		rec = nopRecorder{}
	}
	b := &Beeper{
		sched:    sched,
		sensors:  sensors,
		interval: interval,
		count:    count,
		rng:      globalRand{},
		newID:    uuid.NewString,
		rec:      rec,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AttachTo starts the beeper whenever l becomes visible and stops it when l
// is hidden.
func (b *Beeper) AttachTo(l *InSitu) {
	l.OnShow(b.Start)
	l.OnHide(b.Stop)
}

// Start schedules the beep interval. Starting a running beeper restarts it.
func (b *Beeper) Start() {
	b.Stop()
	if len(b.sensors()) == 0 || b.interval <= 0 {
		return
	}
	b.id = b.sched.SetInterval(b.interval, b.beep)
}

// Stop cancels the interval and clears the pulses.
func (b *Beeper) Stop() {
	if b.id != "" {
		b.sched.Cancel(b.id)
		b.id = ""
	}
	b.pulses = nil
}

// Running reports whether the interval is scheduled.
func (b *Beeper) Running() bool { return b.id != "" }

// Pulses returns the current pulse set.
func (b *Beeper) Pulses() []model.Pulse { return b.pulses }

func (b *Beeper) beep() {
	sensors := b.sensors()
	if len(sensors) == 0 {
		b.pulses = nil
		return
	}
	pulses := make([]model.Pulse, 0, b.count)
	for i := 0; i < b.count; i++ {
		s := sensors[b.rng.IntN(len(sensors))]
		lat, lng, ok := s.Location()
		if !ok {
			continue
		}
		pulses = append(pulses, model.Pulse{
			ID:               b.newID(),
			Lat:              lat,
			Lng:              lng,
			Color:            s.Color,
			MaxRadius:        b.rng.Float64()*5 + 3,
			PropagationSpeed: (b.rng.Float64()-0.5)*20 + 1,
			RepeatPeriod:     time.Duration((b.rng.Float64()*2000 + 200) * float64(time.Millisecond)),
		})
	}
	b.pulses = pulses
	b.rec.AddBeeps(len(pulses))
}
