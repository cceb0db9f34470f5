package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/model"
)

// Cables is the submarine cable layer.
type Cables struct {
	*Store[[]*model.Cable]
}

// NewCables builds the hidden cable layer. A feature's own "color" property
// wins over the palette.
func NewCables(src datasource.Source, cfg config.GeoLayerConfig, palette config.PaletteConfig, deps Deps) *Cables {
	deps = deps.withDefaults()
	load := func(ctx context.Context) ([]*model.Cable, error) {
		features, err := loadFeatures(ctx, src, cfg.Paths)
		if err != nil {
			return nil, err
		}
		cables := make([]*model.Cable, 0, len(features))
		for _, f := range features {
			if f.Geometry == nil {
				deps.Recorder.AddRowsDropped(NameCables, 1)
				continue
			}
			name := f.PropertyMustString(cfg.TitleProperty)
			cables = append(cables, &model.Cable{
				Name:    name,
				Color:   f.PropertyMustString("color", palette.Color(name)),
				Feature: f,
			})
		}
		return cables, nil
	}
	return &Cables{Store: NewStore(NameCables, deps, load, func(c []*model.Cable) int { return len(c) })}
}

// Items returns the loaded cables.
func (l *Cables) Items() []*model.Cable { return l.Data() }

// Regions is the maritime region polygon layer.
type Regions struct {
	*Store[[]*model.Region]

	// Altitude is the polygon cap altitude.
	Altitude float64
}

// NewRegions builds the hidden region layer. Only polygonal features are
// kept; the title property keys the palette.
func NewRegions(src datasource.Source, cfg config.GeoLayerConfig, palette config.PaletteConfig, deps Deps) *Regions {
	deps = deps.withDefaults()
	load := func(ctx context.Context) ([]*model.Region, error) {
		features, err := loadFeatures(ctx, src, cfg.Paths)
		if err != nil {
			return nil, err
		}
		regions := make([]*model.Region, 0, len(features))
		for _, f := range features {
			if f.Geometry == nil || !(f.Geometry.IsPolygon() || f.Geometry.IsMultiPolygon()) {
				deps.Recorder.AddRowsDropped(NameRegions, 1)
				continue
			}
			title := f.PropertyMustString(cfg.TitleProperty)
			regions = append(regions, &model.Region{
				Title:   title,
				Color:   palette.Color(title),
				Feature: f,
			})
		}
		return regions, nil
	}
	return &Regions{
		Store:    NewStore(NameRegions, deps, load, func(r []*model.Region) int { return len(r) }),
		Altitude: cfg.Altitude,
	}
}

// Items returns the loaded regions.
func (l *Regions) Items() []*model.Region { return l.Data() }

// loadFeatures reads every path in order. Each file holds either a feature
// collection or a single feature.
func loadFeatures(ctx context.Context, src datasource.Source, paths []string) ([]*geojson.Feature, error) {
	var out []*geojson.Feature
	for _, p := range paths {
		raw, err := readAll(ctx, src, p)
		if err != nil {
			return nil, err
		}
		features, err := decodeFeatures(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		out = append(out, features...)
	}
	return out, nil
}

func decodeFeatures(raw []byte) ([]*geojson.Feature, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, err
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, err
		}
		return []*geojson.Feature{f}, nil
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", probe.Type)
	}
}

func readAll(ctx context.Context, src datasource.Source, name string) ([]byte, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return raw, nil
}
