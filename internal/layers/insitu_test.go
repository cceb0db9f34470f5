package layers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

func sensorJSON(id, typ string, lats, lons []float64) string {
	join := func(v []float64) string {
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = fmt.Sprint(f)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf(`{"id":%q,"type":%q,"coords":{"lats":[%s],"lons":[%s]}}`, id, typ, join(lats), join(lons))
}

func inSituConfig(refresh time.Duration) config.InSituConfig {
	cfg := config.Default().InSitu
	cfg.Types = []config.InSituType{
		{Code: "PF", Color: "pink"},
		{Code: "TG", Color: "gold"},
	}
	cfg.SampleFactor = 2
	cfg.Refresh = refresh
	return cfg
}

func inSituFiles() map[string]string {
	return map[string]string{
		"insitu/insitu_pf.json": "[" + strings.Join([]string{
			sensorJSON("pf-1", "PF", []float64{10, 11, 12}, []float64{20, 21}),
			sensorJSON("pf-2", "PF", []float64{30}, []float64{40}),
			sensorJSON("pf-3", "PF", []float64{50, 51}, []float64{60, 61}),
			`{"id":"pf-empty","type":"PF","coords":{"lats":[],"lons":[]}}`,
		}, ",") + "]",
		"insitu/insitu_tg.json": "[" + strings.Join([]string{
			sensorJSON("tg-1", "TG", []float64{-1}, []float64{-2}),
			"null",
			sensorJSON("tg-2", "TG", []float64{-3}, []float64{-4}),
		}, ",") + "]",
	}
}

func loadInSitu(t *testing.T, refresh time.Duration) (*InSitu, *scheduler.FakeLoop, *fakeRecorder) {
	t.Helper()
	loop := scheduler.NewFakeLoop(epoch)
	rec := newFakeRecorder()
	l := NewInSitu(newMemSource(inSituFiles()), inSituConfig(refresh), config.Default().Palette, Deps{Sched: loop, Recorder: rec})
	l.Toggle(context.Background())
	settle(t, loop, l.Store)
	if l.State() != Visible {
		t.Fatalf("in-situ did not load")
	}
	return l, loop, rec
}

func TestInSituLoadSamplesAcrossFiles(t *testing.T) {
	l, _, rec := loadInSitu(t, 0)

	// Flattened slots: pf-1 pf-2 pf-3 tg-1 null tg-2; every 2nd slot from 0
	// keeps pf-1 pf-3 and skips the null.
	var ids []string
	for _, s := range l.Sensors() {
		ids = append(ids, s.ID)
	}
	if got := strings.Join(ids, ","); got != "pf-1,pf-3" {
		t.Fatalf("sampled ids = %s", got)
	}
	if rec.rowsDropped[NameInSitu] != 1 {
		t.Fatalf("dropped = %d, want 1", rec.rowsDropped[NameInSitu])
	}
	if s, _ := l.Find("pf-1"); s.Color != "pink" {
		t.Fatalf("color from type table not applied: %q", s.Color)
	}
}

func TestInSituPointsAdvanceCursorsIndependently(t *testing.T) {
	l, _, _ := loadInSitu(t, 0)
	pf1, _ := l.Find("pf-1")

	// Showing the layer reads the first fix once.
	first := l.Latest()
	if len(first) != 2 || first[0].Lat != 10 || first[0].Lng != 20 {
		t.Fatalf("first points = %+v", first)
	}

	wantLat := []float64{11, 12, 10}
	wantLng := []float64{21, 20, 21}
	for i := range wantLat {
		p := l.Points()[0]
		if p.Lat != wantLat[i] || p.Lng != wantLng[i] {
			t.Fatalf("read %d = (%v,%v), want (%v,%v)", i, p.Lat, p.Lng, wantLat[i], wantLng[i])
		}
	}
	if pf1.Lat.Pos != 1 || pf1.Lng.Pos != 0 {
		t.Fatalf("cursor positions lat=%d lng=%d", pf1.Lat.Pos, pf1.Lng.Pos)
	}
}

func TestInSituReloadResetsCursors(t *testing.T) {
	l, loop, _ := loadInSitu(t, 0)
	l.Points()
	l.Points()

	l.Toggle(context.Background())
	l.Toggle(context.Background())
	settle(t, loop, l.Store)
	pf1, _ := l.Find("pf-1")
	// Only the read made on show has happened.
	if pf1.Lat.Pos != 1 || pf1.Lng.Pos != 1 {
		t.Fatalf("cursors not reset on reload: lat=%d lng=%d", pf1.Lat.Pos, pf1.Lng.Pos)
	}
}

func TestInSituRefreshIntervalStopsOnHide(t *testing.T) {
	l, loop, _ := loadInSitu(t, time.Second)
	if loop.PendingIntervals() != 1 {
		t.Fatalf("expected refresh interval, got %d", loop.PendingIntervals())
	}

	loop.Advance(time.Second)
	if p := l.Latest(); p[0].Lat != 11 {
		t.Fatalf("refresh did not advance: %+v", p[0])
	}

	l.Toggle(context.Background())
	if loop.PendingIntervals() != 0 || l.Latest() != nil {
		t.Fatalf("hide left refresh running")
	}
	if ran := loop.Advance(5 * time.Second); ran != 0 {
		t.Fatalf("%d refreshes ran after hide", ran)
	}
}

func TestInSituMissingFileHides(t *testing.T) {
	loop := scheduler.NewFakeLoop(epoch)
	files := inSituFiles()
	delete(files, "insitu/insitu_tg.json")
	l := NewInSitu(newMemSource(files), inSituConfig(0), config.Default().Palette, Deps{Sched: loop})
	l.Toggle(context.Background())
	settle(t, loop, l.Store)
	if l.State() != Hidden || l.Sensors() != nil {
		t.Fatalf("state=%v", l.State())
	}
}
