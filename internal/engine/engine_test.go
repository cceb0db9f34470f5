package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/layers"
	"github.com/signalsfoundry/globe-engine/internal/render"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
	"github.com/signalsfoundry/globe-engine/model"
	"github.com/signalsfoundry/globe-engine/timectrl"
)

var epoch = time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC)

const catalog = `0 Sentinel-2A
1 40697U 15028A   24100.50000000  .00000100  00000-0  50000-4 0  9994
2 40697  98.5600 170.0000 0001200  90.0000 270.0000 14.30800000 10002
Sentinel-3A
1 41335U 16011A   24100.50000000  .00000050  00000-0  30000-4 0  9999
2 41335  98.6200  80.0000 0001100  95.0000 265.0000 14.26700000 10001
`

const infra = `EDITO,EDITO Hub,Brest,France,EDITO,48.39,-4.49
HPC-1,Compute One,Bologna,Italy,HPC,44.49,11.34
PROD-1,Producer,Toulouse,France,PRODUCER,43.60,1.44
`

type mapSource map[string]string

func (m mapSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	body, ok := m[name]
	if !ok {
		return nil, datasource.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type frameRecorder struct {
	layers.Recorder
	frames int
}

func (r *frameRecorder) ObserveFrame(time.Duration) { r.frames++ }

func newTestEngine(t *testing.T, initial ...string) (*Engine, *scheduler.FakeLoop, config.Config) {
	t.Helper()
	return newTestEngineWithInfra(t, infra, initial...)
}

func newTestEngineWithInfra(t *testing.T, infraRows string, initial ...string) (*Engine, *scheduler.FakeLoop, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Clock.Start = epoch.Format(time.RFC3339)
	cfg.InitialLayers = initial
	src := mapSource{
		cfg.Satellites.Catalog: catalog,
		cfg.Infra.Path:         infraRows,
	}
	loop := scheduler.NewFakeLoop(epoch)
	e := New(cfg, src, loop, NewClock(cfg, time.Now()), nil)
	return e, loop, cfg
}

func waitVisible(t *testing.T, loop *scheduler.FakeLoop, ls ...interface{ State() layers.State }) {
	t.Helper()
	ok := loop.RunUntil(func() bool {
		for _, l := range ls {
			if l.State() != layers.Visible {
				return false
			}
		}
		return true
	}, 2*time.Second)
	if !ok {
		t.Fatalf("layers did not become visible")
	}
}

func TestEngineStartLoadsInitialLayersAndPublishes(t *testing.T) {
	e, loop, _ := newTestEngine(t, layers.NameSatellites, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()

	if e.Satellites.State() != layers.Loading || e.Infra.State() != layers.Loading {
		t.Fatalf("initial layers not toggled: sat=%v infra=%v", e.Satellites.State(), e.Infra.State())
	}
	if e.InSitu.State() != layers.Hidden {
		t.Fatalf("insitu should stay hidden")
	}
	waitVisible(t, loop, e.Satellites, e.Infra)

	if ran := loop.Frame(); ran != 1 {
		t.Fatalf("frame callbacks = %d, want 1", ran)
	}
	if got, want := e.Clock().Now(), epoch.Add(e.Clock().Advance()); !got.Equal(want) {
		t.Fatalf("clock = %v, want %v", got, want)
	}

	latest := e.Frames().Latest()
	if latest == nil {
		t.Fatalf("no frame published")
	}
	f := latest.Frame
	if f.Seq != 1 || f.Version != render.V1Version {
		t.Fatalf("seq=%d version=%q", f.Seq, f.Version)
	}
	if len(f.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(f.Objects))
	}
	if len(f.Arcs) != 2*3 {
		t.Fatalf("arcs = %d, want 6", len(f.Arcs))
	}
	if f.Layers[layers.NameSatellites] != "VISIBLE" || f.Layers[layers.NameRegions] != "HIDDEN" {
		t.Fatalf("layer states = %v", f.Layers)
	}
	if loop.PendingFrames() != 1 {
		t.Fatalf("frame loop did not reschedule")
	}

	loop.Frames(4)
	if e.Frames().Latest().Frame.Seq != 5 {
		t.Fatalf("seq = %d after 5 frames", e.Frames().Latest().Frame.Seq)
	}
}

func TestEngineFramesMoveSatellites(t *testing.T) {
	e, loop, _ := newTestEngine(t, layers.NameSatellites)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Satellites)

	s2a, _ := e.Satellites.Find("Sentinel-2A")
	before := s2a.Pos
	loop.Frames(60)
	if s2a.Pos == before {
		t.Fatalf("satellite did not move over 60 frames")
	}
}

func TestEngineStopCancelsFrameLoop(t *testing.T) {
	e, loop, _ := newTestEngine(t)
	stop := e.Start(context.Background())
	loop.Frame()
	at := e.Clock().Now()

	stop()
	if e.Running() {
		t.Fatalf("engine still running after stop")
	}
	loop.Frames(3)
	if !e.Clock().Now().Equal(at) {
		t.Fatalf("clock advanced after stop")
	}
	if loop.PendingFrames() != 0 {
		t.Fatalf("pending frames = %d after stop", loop.PendingFrames())
	}
}

func TestEngineRecordsFrames(t *testing.T) {
	cfg := config.Default()
	cfg.InitialLayers = nil
	loop := scheduler.NewFakeLoop(epoch)
	rec := &frameRecorder{Recorder: nopRecorder{}}
	e := New(cfg, mapSource{}, loop, NewClock(cfg, epoch), nil, WithMetricsRecorder(rec))

	stop := e.Start(context.Background())
	defer stop()
	loop.Frames(3)
	if rec.frames != 3 {
		t.Fatalf("observed frames = %d, want 3", rec.frames)
	}
}

func TestEngineFreezeKeepsFollowing(t *testing.T) {
	e, loop, _ := newTestEngine(t, layers.NameSatellites)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Satellites)

	ctx := context.Background()
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: "Sentinel-2A"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := e.Apply(ctx, render.Command{Type: render.CmdToggleFreeze}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	at := e.Clock().Now()
	loop.Frames(3)

	if !e.Clock().Now().Equal(at) {
		t.Fatalf("frozen clock advanced")
	}
	if !e.Follower().Active() {
		t.Fatalf("freeze cancelled the follow")
	}
	if got := e.Frames().Latest().Frame; !got.Frozen || got.Selected != "Sentinel-2A" {
		t.Fatalf("frame frozen=%v selected=%q", got.Frozen, got.Selected)
	}

	if err := e.Apply(ctx, render.Command{Type: render.CmdToggleFreeze}); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	loop.Frame()
	if !e.Clock().Now().After(at) {
		t.Fatalf("clock did not resume")
	}
}

func TestEngineSelectInfraFramesCamera(t *testing.T) {
	e, loop, cfg := newTestEngine(t, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Infra)

	ctx := context.Background()
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindInfra, Key: "EDITO"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	cam := e.Camera()
	if cam.Lat != 48.39 || cam.Lng != -4.49 || cam.Altitude != cfg.Camera.InfraAltitude {
		t.Fatalf("camera = %+v", cam)
	}
	if e.Follower().Active() {
		t.Fatalf("static target should not be followed")
	}

	// Selecting the same key again toggles it off.
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindInfra, Key: "EDITO"}); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if e.Follower().Selected() != nil {
		t.Fatalf("second select should unselect")
	}
	if got := e.Camera().Altitude; got != cfg.Camera.InitialAltitude {
		t.Fatalf("altitude after unselect = %v, want %v", got, cfg.Camera.InitialAltitude)
	}
}

func TestEngineSelectionIdentityIncludesKind(t *testing.T) {
	rows := infra + "Sentinel-2A,Namesake,Paris,France,HPC,48.85,2.35\n"
	e, loop, cfg := newTestEngineWithInfra(t, rows, layers.NameSatellites, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Satellites, e.Infra)

	ctx := context.Background()
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: "Sentinel-2A"}); err != nil {
		t.Fatalf("select satellite: %v", err)
	}
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindInfra, Key: "Sentinel-2A"}); err != nil {
		t.Fatalf("select infra: %v", err)
	}
	sel := e.Follower().Selected()
	if sel == nil || sel.Kind() != model.KindInfra {
		t.Fatalf("selected = %v, want the infra node", sel)
	}
	if got := e.Camera().Altitude; got != cfg.Camera.InfraAltitude {
		t.Fatalf("altitude = %v, want %v", got, cfg.Camera.InfraAltitude)
	}

	// Moving on to a satellite leaves the infrastructure framing.
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: "Sentinel-3A"}); err != nil {
		t.Fatalf("select satellite: %v", err)
	}
	if got := e.Camera().Altitude; got != cfg.Camera.InitialAltitude {
		t.Fatalf("altitude = %v, want %v", got, cfg.Camera.InitialAltitude)
	}
}

func TestEnginePublishesDespiteNonFiniteInfraRow(t *testing.T) {
	rows := infra + "BAD,Broken,Nowhere,Nowhere,HPC,NaN,10\n"
	e, loop, _ := newTestEngineWithInfra(t, rows, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Infra)

	if _, ok := e.Infra.Find("BAD"); ok {
		t.Fatalf("non-finite row was kept")
	}
	loop.Frames(3)
	latest := e.Frames().Latest()
	if latest == nil {
		t.Fatalf("no frame published")
	}
	if len(latest.Frame.Labels) != 3 {
		t.Fatalf("labels = %d, want 3", len(latest.Frame.Labels))
	}
}

func TestEngineHidingLayerUnselects(t *testing.T) {
	e, loop, _ := newTestEngine(t, layers.NameSatellites, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Satellites, e.Infra)

	ctx := context.Background()
	if err := e.Apply(ctx, render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: "Sentinel-3A"}); err != nil {
		t.Fatalf("select: %v", err)
	}

	// Hiding an unrelated layer keeps the selection.
	if err := e.Apply(ctx, render.Command{Type: render.CmdToggleLayer, Layer: layers.NameInfra}); err != nil {
		t.Fatalf("toggle infra: %v", err)
	}
	if e.Follower().Selected() == nil {
		t.Fatalf("hiding infra dropped a satellite selection")
	}

	if err := e.Apply(ctx, render.Command{Type: render.CmdToggleLayer, Layer: layers.NameSatellites}); err != nil {
		t.Fatalf("toggle satellites: %v", err)
	}
	if e.Satellites.State() != layers.Hidden {
		t.Fatalf("satellites state = %v", e.Satellites.State())
	}
	if e.Follower().Selected() != nil || e.Follower().Active() {
		t.Fatalf("hiding satellites kept the selection")
	}
}

func TestEngineApplyErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  render.Command
		want error
	}{
		{"unknown layer", render.Command{Type: render.CmdToggleLayer, Layer: "clouds"}, ErrUnknownLayer},
		{"unknown group", render.Command{Type: render.CmdToggleGroup, Group: "ghosts"}, layers.ErrUnknownGroup},
		{"unknown target", render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: "nope"}, ErrUnknownTarget},
		{"unknown kind", render.Command{Type: render.CmdSelect, Kind: "comet", Key: "x"}, ErrUnknownTarget},
		{"fixed multiplier", render.Command{Type: render.CmdSetMultiplier, Multiplier: 10}, timectrl.ErrMultiplierFixed},
		{"malformed time", render.Command{Type: render.CmdSetTime, Time: "yesterday"}, ErrInvalidTime},
		{"rewind", render.Command{Type: render.CmdSetTime, Time: "2000-01-01T00:00:00Z"}, timectrl.ErrClockRewind},
		{"unknown command", render.Command{Type: "warp"}, ErrUnknownCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.Apply(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("Apply(%+v) = %v, want %v", tc.cmd, err, tc.want)
			}
		})
	}
}

func TestEngineSetMultiplierLive(t *testing.T) {
	cfg := config.Default()
	cfg.Clock.LiveMultiplier = true
	loop := scheduler.NewFakeLoop(epoch)
	e := New(cfg, mapSource{}, loop, NewClock(cfg, epoch), nil)

	if err := e.Apply(context.Background(), render.Command{Type: render.CmdSetMultiplier, Multiplier: 1000}); err != nil {
		t.Fatalf("set multiplier: %v", err)
	}
	if e.Clock().Multiplier() != 1000 {
		t.Fatalf("multiplier = %v", e.Clock().Multiplier())
	}
}

func TestEngineSetTimeJumpsClock(t *testing.T) {
	e, _, _ := newTestEngine(t)
	want := epoch.Add(36 * time.Hour)
	cmd := render.Command{Type: render.CmdSetTime, Time: want.Format(time.RFC3339)}
	if err := e.Apply(context.Background(), cmd); err != nil {
		t.Fatalf("set time: %v", err)
	}
	if got := e.Clock().Now(); !got.Equal(want) {
		t.Fatalf("clock = %v, want %v", got, want)
	}
}

func TestEngineToggleGroupReloadsInfra(t *testing.T) {
	e, loop, _ := newTestEngine(t, layers.NameInfra)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.Infra)

	if err := e.Apply(context.Background(), render.Command{Type: render.CmdToggleGroup, Group: "producers"}); err != nil {
		t.Fatalf("toggle group: %v", err)
	}
	ok := loop.RunUntil(func() bool { return e.Infra.Visible() && len(e.Infra.Nodes()) == 2 }, 2*time.Second)
	if !ok {
		t.Fatalf("infra nodes = %d after disabling producers", len(e.Infra.Nodes()))
	}
	if _, found := e.Infra.Find("PROD-1"); found {
		t.Fatalf("producer still present")
	}
}

func TestEngineSubmitRunsOnLoop(t *testing.T) {
	e, loop, _ := newTestEngine(t)

	done := make(chan error, 1)
	go func() {
		done <- e.Submit(context.Background(), render.Command{Type: render.CmdToggleFreeze})
	}()

	var err error
	got := loop.RunUntil(func() bool {
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second)
	if !got {
		t.Fatalf("submit did not complete")
	}
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if e.Clock().State() != timectrl.Frozen {
		t.Fatalf("clock state = %v", e.Clock().State())
	}
}

func TestEngineSubmitHonoursContext(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Submit(ctx, render.Command{Type: render.CmdToggleFreeze}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit with cancelled ctx = %v", err)
	}
}

type countingAdapter struct {
	renders int
}

func (a *countingAdapter) Version() string { return "test" }

func (a *countingAdapter) Render(s render.Snapshot) *render.Frame {
	a.renders++
	return &render.Frame{Version: a.Version(), Seq: s.Seq}
}

func TestEngineUsesCustomAdapter(t *testing.T) {
	cfg := config.Default()
	cfg.InitialLayers = nil
	loop := scheduler.NewFakeLoop(epoch)
	adapter := &countingAdapter{}
	e := New(cfg, mapSource{}, loop, NewClock(cfg, epoch), nil, WithAdapter(adapter))

	stop := e.Start(context.Background())
	defer stop()
	loop.Frames(2)
	if adapter.renders != 2 || e.Frames().Latest().Frame.Version != "test" {
		t.Fatalf("renders=%d latest=%+v", adapter.renders, e.Frames().Latest().Frame)
	}
}

func TestEngineSensorPulsesReachFrames(t *testing.T) {
	cfg := config.Default()
	cfg.Clock.Start = epoch.Format(time.RFC3339)
	cfg.InitialLayers = []string{layers.NameInSitu}
	cfg.InSitu.Types = []config.InSituType{{Code: "PF", Name: "Profilers", Color: "red"}}
	cfg.InSitu.BeepCount = 4
	src := mapSource{
		"insitu/insitu_pf.json": `[{"id":"pf-1","type":"PF","coords":{"lats":[10,11],"lons":[20,21]}}]`,
	}
	loop := scheduler.NewFakeLoop(epoch)
	e := New(cfg, src, loop, NewClock(cfg, epoch), nil,
		WithBeeperOptions(layers.WithIDs(func() string { return "pulse" })),
	)
	stop := e.Start(context.Background())
	defer stop()
	waitVisible(t, loop, e.InSitu)

	loop.Advance(cfg.InSitu.BeepInterval)
	loop.Frame()

	f := e.Frames().Latest().Frame
	if len(f.Points) != 1 || f.Points[0].Label != "pf-1" {
		t.Fatalf("points = %+v", f.Points)
	}
	if len(f.Rings) != 4 {
		t.Fatalf("rings = %d, want 4", len(f.Rings))
	}
	for _, r := range f.Rings {
		if r.ID != "pulse" || r.Lat != 10 || r.Lng != 20 || r.Color != "red" {
			t.Fatalf("ring = %+v", r)
		}
	}

	if err := e.Apply(context.Background(), render.Command{Type: render.CmdToggleLayer, Layer: layers.NameInSitu}); err != nil {
		t.Fatalf("hide insitu: %v", err)
	}
	if e.Beeper.Running() || loop.PendingIntervals() != 0 {
		t.Fatalf("hiding insitu left intervals running: %d", loop.PendingIntervals())
	}
}
