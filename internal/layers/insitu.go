package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/signalsfoundry/globe-engine/core"
	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
	"github.com/signalsfoundry/globe-engine/model"
)

// SensorPoint is one in-situ marker as of the last refresh.
type SensorPoint struct {
	ID    string
	Type  string
	Lat   float64
	Lng   float64
	Color string
}

type sensorRecord struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Coords struct {
		Lats []float64 `json:"lats"`
		Lons []float64 `json:"lons"`
	} `json:"coords"`
}

// InSitu is the sampled in-situ sensor layer. While visible it re-reads
// every sensor's next fix on a wall-clock interval.
type InSitu struct {
	*Store[[]*model.Sensor]

	src     datasource.Source
	cfg     config.InSituConfig
	palette config.PaletteConfig
	deps    Deps

	refreshID scheduler.ID
	points    []SensorPoint
}

// NewInSitu builds the hidden in-situ layer.
func NewInSitu(src datasource.Source, cfg config.InSituConfig, palette config.PaletteConfig, deps Deps) *InSitu {
	l := &InSitu{
		src:     src,
		cfg:     cfg,
		palette: palette,
		deps:    deps.withDefaults(),
	}
	l.Store = NewStore(NameInSitu, l.deps, l.load, func(s []*model.Sensor) int { return len(s) })
	l.OnShow(l.startRefresh)
	l.OnHide(l.stopRefresh)
	return l
}

func (l *InSitu) load(ctx context.Context) ([]*model.Sensor, error) {
	var all []*model.Sensor
	for _, typ := range l.cfg.Types {
		name := fmt.Sprintf(l.cfg.PathPattern, strings.ToLower(typ.Code))
		sensors, dropped, err := l.loadType(ctx, name, typ)
		if err != nil {
			return nil, err
		}
		if dropped > 0 {
			l.deps.Recorder.AddRowsDropped(NameInSitu, dropped)
			l.deps.Log.Debug(ctx, "in-situ records dropped",
				logging.String("file", name),
				logging.Int("dropped", dropped),
			)
		}
		all = append(all, sensors...)
	}

	sampled := core.Sample(all, l.cfg.SampleFactor, func(s *model.Sensor) bool { return s != nil })
	core.ResetCursors(sampled)
	return sampled, nil
}

func (l *InSitu) loadType(ctx context.Context, name string, typ config.InSituType) ([]*model.Sensor, int, error) {
	rc, err := l.src.Open(ctx, name)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	var records []*sensorRecord
	if err := json.NewDecoder(rc).Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", name, err)
	}

	// Null entries keep their slot so sampling sees the file's layout.
	sensors := make([]*model.Sensor, 0, len(records))
	dropped := 0
	for _, rec := range records {
		if rec == nil {
			sensors = append(sensors, nil)
			continue
		}
		if rec.ID == "" || len(rec.Coords.Lats) == 0 || len(rec.Coords.Lons) == 0 {
			dropped++
			continue
		}
		sensorType := rec.Type
		if sensorType == "" {
			sensorType = typ.Code
		}
		color := typ.Color
		if sensorType != typ.Code || color == "" {
			color = l.palette.Color(sensorType)
		}
		sensors = append(sensors, &model.Sensor{
			ID:    rec.ID,
			Type:  sensorType,
			Lat:   model.FixCursor{Values: rec.Coords.Lats},
			Lng:   model.FixCursor{Values: rec.Coords.Lons},
			Color: color,
		})
	}
	return sensors, dropped, nil
}

// Sensors returns the sampled sensors, nil unless visible.
func (l *InSitu) Sensors() []*model.Sensor { return l.Data() }

// Points reads the next fix of every sensor. Each call advances both
// cursors of every sensor and caches the result for Latest.
func (l *InSitu) Points() []SensorPoint {
	sensors := l.Data()
	points := make([]SensorPoint, 0, len(sensors))
	for _, s := range sensors {
		var lat, lng float64
		lat, s.Lat = s.Lat.Next()
		lng, s.Lng = s.Lng.Next()
		points = append(points, SensorPoint{
			ID:    s.ID,
			Type:  s.Type,
			Lat:   lat,
			Lng:   lng,
			Color: s.Color,
		})
	}
	l.points = points
	return points
}

// Latest returns the points from the last refresh without advancing.
func (l *InSitu) Latest() []SensorPoint { return l.points }

// Find returns the sensor with the given id.
func (l *InSitu) Find(id string) (*model.Sensor, bool) {
	for _, s := range l.Data() {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (l *InSitu) startRefresh() {
	l.stopRefresh()
	l.Points()
	if l.cfg.Refresh > 0 {
		l.refreshID = l.deps.Sched.SetInterval(l.cfg.Refresh, func() { l.Points() })
	}
}

func (l *InSitu) stopRefresh() {
	if l.refreshID != "" {
		l.deps.Sched.Cancel(l.refreshID)
		l.refreshID = ""
	}
	l.points = nil
}
