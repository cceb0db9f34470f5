// Package render turns engine snapshots into renderer frames and delivers
// them to clients.
package render

import (
	"fmt"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/layers"
	"github.com/signalsfoundry/globe-engine/model"
)

// Snapshot is the engine state a frame is built from. It is assembled on the
// loop goroutine and only read by the adapter.
type Snapshot struct {
	Seq        uint64
	Time       time.Time
	Clock      string
	Frozen     bool
	Multiplier float64

	Camera          CameraView
	AutoRotateSpeed float64

	Layers   map[string]layers.State
	Groups   []layers.GroupFlag
	Selected string

	Satellites     []*model.TrackedObject
	Sensors        []layers.SensorPoint
	Infra          []*model.InfraNode
	Routes         []model.RouteEdge
	Pulses         []model.Pulse
	Cables         []*model.Cable
	Regions        []*model.Region
	RegionAltitude float64
}

// Adapter maps snapshots onto one renderer data contract.
type Adapter interface {
	Version() string
	Render(s Snapshot) *Frame
}

// Frame is a published renderer frame. Frames are never mutated after
// Render returns.
type Frame struct {
	Version    string            `json:"version"`
	Seq        uint64            `json:"seq"`
	Time       time.Time         `json:"time"`
	Clock      string            `json:"clock"`
	Frozen     bool              `json:"frozen"`
	Multiplier float64           `json:"multiplier"`
	Camera     CameraFrame       `json:"camera"`
	Layers     map[string]string `json:"layers"`
	Groups     map[string]bool   `json:"groups,omitempty"`
	Selected   string            `json:"selected,omitempty"`

	ObjectSizeKm float64   `json:"objectSizeKm"`
	ArcStyle     ArcStyle  `json:"arcStyle"`
	Objects      []Object  `json:"objects"`
	Points       []Point   `json:"points"`
	Labels       []Label   `json:"labels"`
	Arcs         []Arc     `json:"arcs"`
	Rings        []Ring    `json:"rings"`
	Paths        []Path    `json:"paths"`
	Polygons     []Polygon `json:"polygons"`
}

type CameraFrame struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Altitude        float64 `json:"altitude"`
	AutoRotate      bool    `json:"autoRotate"`
	AutoRotateSpeed float64 `json:"autoRotateSpeed"`
}

type ArcStyle struct {
	DashLength    float64 `json:"dashLength"`
	DashGap       float64 `json:"dashGap"`
	AnimateTimeMs int64   `json:"dashAnimateTime"`
}

type Object struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Alt     float64 `json:"alt"`
	Name    string  `json:"name"`
	Color   string  `json:"color"`
	InfoURL string  `json:"infoUrl,omitempty"`
}

type Point struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Alt   float64 `json:"alt"`
	Color string  `json:"color"`
	Label string  `json:"label"`
}

type Label struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Text      string  `json:"text"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	DotRadius float64 `json:"dotRadius"`
}

type Arc struct {
	StartLat float64  `json:"startLat"`
	StartLng float64  `json:"startLng"`
	EndLat   float64  `json:"endLat"`
	EndLng   float64  `json:"endLng"`
	Label    string   `json:"label"`
	Color    []string `json:"color"`
	Type     string   `json:"type"`
}

type Ring struct {
	ID               string  `json:"id"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	Color            string  `json:"color"`
	MaxR             float64 `json:"maxR"`
	PropagationSpeed float64 `json:"propagationSpeed"`
	RepeatPeriod     float64 `json:"repeatPeriod"` // ms
}

// Path coordinates are [lat, lng] pairs.
type Path struct {
	Coords [][2]float64 `json:"coords"`
	Color  string       `json:"color"`
	Label  string       `json:"label"`
}

type Polygon struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Color    string            `json:"color"`
	Altitude float64           `json:"altitude"`
	Label    string            `json:"label"`
}

// V1Version identifies the globe.gl field naming.
const V1Version = "v1"

// V1 is the globe.gl adapter.
type V1 struct {
	ObjectSizeKm float64
	LabelSize    float64
	DotRadius    float64
	Arcs         config.ArcConfig
}

// NewV1 builds the v1 adapter from presentation config.
func NewV1(cfg config.Config) *V1 {
	return &V1{
		ObjectSizeKm: cfg.Satellites.SizeKm,
		LabelSize:    cfg.Infra.LabelSize,
		DotRadius:    cfg.Infra.DotRadius,
		Arcs:         cfg.Arcs,
	}
}

func (a *V1) Version() string { return V1Version }

// Render builds a frame with freshly allocated slices.
func (a *V1) Render(s Snapshot) *Frame {
	f := &Frame{
		Version:    V1Version,
		Seq:        s.Seq,
		Time:       s.Time,
		Clock:      s.Clock,
		Frozen:     s.Frozen,
		Multiplier: s.Multiplier,
		Camera: CameraFrame{
			Lat:             s.Camera.Lat,
			Lng:             s.Camera.Lng,
			Altitude:        s.Camera.Altitude,
			AutoRotate:      s.AutoRotateSpeed > 0,
			AutoRotateSpeed: s.AutoRotateSpeed,
		},
		Layers:       make(map[string]string, len(s.Layers)),
		Selected:     s.Selected,
		ObjectSizeKm: a.ObjectSizeKm,
		ArcStyle: ArcStyle{
			DashLength:    a.Arcs.DashLength,
			DashGap:       a.Arcs.DashGap,
			AnimateTimeMs: a.Arcs.AnimateTime.Milliseconds(),
		},
		Objects:  []Object{},
		Points:   []Point{},
		Labels:   []Label{},
		Arcs:     []Arc{},
		Rings:    []Ring{},
		Paths:    []Path{},
		Polygons: []Polygon{},
	}
	for name, state := range s.Layers {
		f.Layers[name] = state.String()
	}
	if len(s.Groups) > 0 {
		f.Groups = make(map[string]bool, len(s.Groups))
		for _, g := range s.Groups {
			f.Groups[g.Name] = g.Enabled
		}
	}

	for _, o := range s.Satellites {
		if !o.Located {
			continue
		}
		f.Objects = append(f.Objects, Object{
			Lat:     o.Pos.Lat,
			Lng:     o.Pos.Lng,
			Alt:     o.Pos.Alt,
			Name:    o.Name,
			Color:   o.Color,
			InfoURL: o.InfoURL,
		})
	}
	for _, p := range s.Sensors {
		f.Points = append(f.Points, Point{Lat: p.Lat, Lng: p.Lng, Color: p.Color, Label: p.ID})
	}
	for _, n := range s.Infra {
		f.Labels = append(f.Labels, Label{
			Lat:       n.Lat,
			Lng:       n.Lng,
			Text:      n.ID,
			Color:     n.Color,
			Size:      a.LabelSize,
			DotRadius: a.DotRadius,
		})
	}
	for _, e := range s.Routes {
		f.Arcs = append(f.Arcs, Arc{
			StartLat: e.Src.Lat,
			StartLng: e.Src.Lng,
			EndLat:   e.Dst.Lat,
			EndLng:   e.Dst.Lng,
			Label:    fmt.Sprintf("%s → %s", e.Src.ID, e.Dst.ID),
			Color:    append([]string(nil), a.Arcs.Colors...),
			Type:     e.Type,
		})
	}
	for _, p := range s.Pulses {
		f.Rings = append(f.Rings, Ring{
			ID:               p.ID,
			Lat:              p.Lat,
			Lng:              p.Lng,
			Color:            p.Color,
			MaxR:             p.MaxRadius,
			PropagationSpeed: p.PropagationSpeed,
			RepeatPeriod:     float64(p.RepeatPeriod) / float64(time.Millisecond),
		})
	}
	for _, c := range s.Cables {
		for _, line := range cableLines(c.Feature.Geometry) {
			f.Paths = append(f.Paths, Path{Coords: line, Color: c.Color, Label: c.Name})
		}
	}
	for _, r := range s.Regions {
		f.Polygons = append(f.Polygons, Polygon{
			Geometry: r.Feature.Geometry,
			Color:    r.Color,
			Altitude: s.RegionAltitude,
			Label:    r.Title,
		})
	}
	return f
}

// cableLines flattens a (multi) line string into [lat, lng] paths.
func cableLines(g *geojson.Geometry) [][][2]float64 {
	if g == nil {
		return nil
	}
	var lines [][][]float64
	switch {
	case g.IsLineString():
		lines = [][][]float64{g.LineString}
	case g.IsMultiLineString():
		lines = g.MultiLineString
	default:
		return nil
	}
	out := make([][][2]float64, 0, len(lines))
	for _, line := range lines {
		coords := make([][2]float64, 0, len(line))
		for _, pt := range line {
			if len(pt) < 2 {
				continue
			}
			coords = append(coords, [2]float64{pt[1], pt[0]})
		}
		out = append(out, coords)
	}
	return out
}
