// Package config holds engine configuration: built-in defaults, optionally
// overridden by a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/signalsfoundry/globe-engine/core"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var layerNames = map[string]bool{
	"satellites": true,
	"insitu":     true,
	"infra":      true,
	"cables":     true,
	"regions":    true,
}

// Config is the full engine configuration.
type Config struct {
	// DataSource is a directory or an http(s) base URL holding the datasets.
	DataSource string `toml:"data_source"`

	// InitialLayers are toggled on at startup.
	InitialLayers []string `toml:"initial_layers"`

	Clock      ClockConfig     `toml:"clock"`
	Frame      FrameConfig     `toml:"frame"`
	Satellites SatelliteConfig `toml:"satellites"`
	InSitu     InSituConfig    `toml:"insitu"`
	Infra      InfraConfig     `toml:"infra"`
	Cables     GeoLayerConfig  `toml:"cables"`
	Regions    GeoLayerConfig  `toml:"regions"`
	Palette    PaletteConfig   `toml:"palette"`
	Camera     CameraConfig    `toml:"camera"`
	Arcs       ArcConfig       `toml:"arcs"`
	Server     ServerConfig    `toml:"server"`
}

// ClockConfig configures the virtual clock.
type ClockConfig struct {
	Step           time.Duration `toml:"step"`
	Multiplier     float64       `toml:"multiplier"`
	LiveMultiplier bool          `toml:"live_multiplier"`
	// Start is an RFC 3339 instant; empty means wall-clock now.
	Start string `toml:"start"`
}

// FrameConfig configures the display refresh cadence.
type FrameConfig struct {
	Interval time.Duration `toml:"interval"`
}

// SatelliteClass maps satellite names to display attributes.
type SatelliteClass struct {
	Names   []string `toml:"names"`
	Color   string   `toml:"color"`
	InfoURL string   `toml:"info_url"`
}

// SatelliteConfig configures the satellite layer.
type SatelliteConfig struct {
	Catalog string `toml:"catalog"`
	Ceiling int    `toml:"ceiling"`
	// SizeKm is the rendered satellite marker size.
	SizeKm float64 `toml:"size_km"`

	Classes        []SatelliteClass `toml:"classes"`
	DefaultColor   string           `toml:"default_color"`
	DefaultInfoURL string           `toml:"default_info_url"` // prefix; the name is appended
}

// InSituType is one sensor family with its own dataset file.
type InSituType struct {
	Code  string `toml:"code"`
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// InSituConfig configures the in-situ layer and its beeper.
type InSituConfig struct {
	Types []InSituType `toml:"types"`
	// PathPattern has one %s verb replaced by the lower-case type code.
	PathPattern  string        `toml:"path_pattern"`
	SampleFactor int           `toml:"sample_factor"`
	Refresh      time.Duration `toml:"refresh"`

	BeepInterval time.Duration `toml:"beep_interval"`
	BeepCount    int           `toml:"beep_count"`
}

// InfraConfig configures the infrastructure layer.
type InfraConfig struct {
	Path         string          `toml:"path"`
	Schema       string          `toml:"schema"` // v1 or v2
	Multiplicity int             `toml:"multiplicity"`
	Topology     core.HubTable   `toml:"topology"`
	Groups       map[string]bool `toml:"groups"` // absent groups start visible
	LabelSize    float64         `toml:"label_size"`
	DotRadius    float64         `toml:"dot_radius"`
}

// GeoLayerConfig configures a GeoJSON layer.
type GeoLayerConfig struct {
	Paths []string `toml:"paths"`
	// Altitude is the polygon cap altitude; unused for cables.
	Altitude float64 `toml:"altitude"`
	// TitleProperty names the feature property used as label and palette key.
	TitleProperty string `toml:"title_property"`
}

// PaletteConfig maps type codes and region titles to colors.
type PaletteConfig struct {
	Colors  map[string]string `toml:"colors"`
	Default string            `toml:"default"`
}

// CameraConfig holds camera framing constants.
type CameraConfig struct {
	InitialAltitude float64 `toml:"initial_altitude"`
	InfraAltitude   float64 `toml:"infra_altitude"`
}

// ArcConfig holds route arc presentation constants.
type ArcConfig struct {
	Colors      []string      `toml:"colors"`
	DashLength  float64       `toml:"dash_length"`
	DashGap     float64       `toml:"dash_gap"`
	AnimateTime time.Duration `toml:"animate_time"`
}

// ServerConfig configures cmd/globe-server.
type ServerConfig struct {
	HTTPAddr    string  `toml:"http_addr"`
	GRPCAddr    string  `toml:"grpc_addr"`
	ClientFPS   float64 `toml:"client_fps"`
	ClientBurst int     `toml:"client_burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataSource:    "assets/data",
		InitialLayers: []string{"satellites", "insitu", "infra"},
		Clock: ClockConfig{
			Step:       time.Second / 60,
			Multiplier: 100,
		},
		Frame: FrameConfig{Interval: time.Second / 60},
		Satellites: SatelliteConfig{
			Catalog: "space-track-leo-subset.txt",
			Ceiling: core.DefaultCatalogCeiling,
			SizeKm:  200,
			Classes: []SatelliteClass{
				{Names: []string{"Sentinel-1A", "Sentinel-1B"}, Color: "#0074D9", InfoURL: "https://www.esa.int/Applications/Observing_the_Earth/Copernicus/Sentinel-1"},
				{Names: []string{"Sentinel-2A", "Sentinel-2B"}, Color: "#2ECC40", InfoURL: "https://www.esa.int/Applications/Observing_the_Earth/Copernicus/Sentinel-2"},
				{Names: []string{"Sentinel-3A", "Sentinel-3B"}, Color: "#FFDC00", InfoURL: "https://www.esa.int/Applications/Observing_the_Earth/Copernicus/Sentinel-3"},
				{Names: []string{"Sentinel-6MF"}, Color: "#FF851B", InfoURL: "https://www.esa.int/Applications/Observing_the_Earth/Copernicus/Sentinel-6"},
				{Names: []string{"Suomi-NPP"}, Color: "#AAAAAA", InfoURL: "https://en.wikipedia.org/wiki/Suomi_NPP"},
				{Names: []string{"METOP-B", "METOP-C"}, Color: "#AAAAAA", InfoURL: "https://en.wikipedia.org/wiki/MetOp"},
			},
			DefaultColor:   "#AAAAAA",
			DefaultInfoURL: "https://en.wikipedia.org/wiki/",
		},
		InSitu: InSituConfig{
			Types: []InSituType{
				{Code: "PF", Name: "Profilers", Color: "rgba(224,80,207,0.6)"},
				{Code: "SD", Name: "Saildrones", Color: "rgba(80,138,224,0.6)"},
				{Code: "SM", Name: "Sea Mammals", Color: "rgba(99,224,80,0.6)"},
				{Code: "TG", Name: "Tide Gauge", Color: "rgba(255,195,0,0.75)"},
			},
			PathPattern:  "insitu/insitu_%s.json",
			SampleFactor: 4,
			Refresh:      time.Second,
			BeepInterval: 3 * time.Second,
			BeepCount:    10,
		},
		Infra: InfraConfig{
			Path:         "data_centers.txt",
			Schema:       "v1",
			Multiplicity: core.DefaultRouteMultiplicity,
			Topology:     core.DefaultHubTable(),
			Groups:       map[string]bool{"hubs": true, "producers": true},
			LabelSize:    0.2,
			DotRadius:    0.3,
		},
		Cables: GeoLayerConfig{
			Paths:         []string{"cables/cables.json"},
			TitleProperty: "name",
		},
		Regions: GeoLayerConfig{
			Paths:         []string{"areas/mediterranean.json"},
			Altitude:      0.001,
			TitleProperty: "title",
		},
		Palette: PaletteConfig{
			Colors: map[string]string{
				"SM":                "rgba(99,224,80,0.6)",
				"SD":                "rgba(80,138,224,0.6)",
				"TG":                "rgba(255,195,0,0.75)",
				"PF":                "rgba(224,80,207,0.6)",
				"HPC":               "rgba(255,255,0,0.75)",
				"PRODUCER":          "rgba(175,225,175,0.75)",
				"EDITO":             "rgba(15,122,175,0.75)",
				"Mediterranean sea": "rgba(255,255,0,0.2)",
			},
			Default: "rgba(255,255,255,0.75)",
		},
		Camera: CameraConfig{
			InitialAltitude: 3.5,
			InfraAltitude:   0.5,
		},
		Arcs: ArcConfig{
			Colors:      []string{"rgba(0,255,0,0.6)", "rgba(255,255,0,0.6)"},
			DashLength:  0.25,
			DashGap:     0.2,
			AnimateTime: 4 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":9090",
			ClientFPS:   30,
			ClientBurst: 5,
		},
	}
}

// Load returns Default overlaid with the TOML file at path. An empty path
// returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var probe map[string]any
	defined, err := toml.Decode(string(raw), &probe)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.resetArrays(defined)

	md, err := toml.Decode(string(raw), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resetArrays clears default arrays the file redefines. The decoder reuses
// existing slice elements, which would leak default fields into file entries.
// Maps (palette colors, infra groups) are merged instead, except that a new
// topology also drops the default group flags.
func (c *Config) resetArrays(md toml.MetaData) {
	if md.IsDefined("initial_layers") {
		c.InitialLayers = nil
	}
	if md.IsDefined("satellites", "classes") {
		c.Satellites.Classes = nil
	}
	if md.IsDefined("insitu", "types") {
		c.InSitu.Types = nil
	}
	if md.IsDefined("infra", "topology", "subtypes") {
		c.Infra.Topology.Subtypes = nil
		c.Infra.Groups = nil
	}
	if md.IsDefined("infra", "topology", "types") {
		c.Infra.Topology.Types = nil
	}
	if md.IsDefined("cables", "paths") {
		c.Cables.Paths = nil
	}
	if md.IsDefined("regions", "paths") {
		c.Regions.Paths = nil
	}
	if md.IsDefined("arcs", "colors") {
		c.Arcs.Colors = nil
	}
}

// Validate checks the configuration, including the hub table.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataSource != "", "data_source must be set")
	for _, name := range c.InitialLayers {
		check(layerNames[name], "initial_layers names unknown layer %q", name)
	}
	check(c.Clock.Step > 0, "clock.step must be positive")
	check(c.Clock.Multiplier > 0, "clock.multiplier must be positive")
	if c.Clock.Start != "" {
		_, err := time.Parse(time.RFC3339, c.Clock.Start)
		check(err == nil, "clock.start %q is not RFC 3339", c.Clock.Start)
	}
	check(c.Frame.Interval > 0, "frame.interval must be positive")
	check(c.Satellites.Catalog != "", "satellites.catalog must be set")
	check(c.Satellites.Ceiling > 0, "satellites.ceiling must be positive")

	check(len(c.InSitu.Types) > 0, "insitu.types must not be empty")
	seen := make(map[string]bool)
	for _, typ := range c.InSitu.Types {
		check(typ.Code != "", "insitu type code must be set")
		check(!seen[typ.Code], "duplicate insitu type %q", typ.Code)
		seen[typ.Code] = true
	}
	check(strings.Count(c.InSitu.PathPattern, "%s") == 1, "insitu.path_pattern must contain exactly one %%s")
	check(c.InSitu.SampleFactor >= 1, "insitu.sample_factor must be at least 1")
	check(c.InSitu.Refresh >= 0, "insitu.refresh must not be negative")
	check(c.InSitu.BeepInterval > 0, "insitu.beep_interval must be positive")
	check(c.InSitu.BeepCount >= 0, "insitu.beep_count must not be negative")

	check(c.Infra.Path != "", "infra.path must be set")
	check(c.Infra.Schema == "v1" || c.Infra.Schema == "v2", "infra.schema must be v1 or v2, got %q", c.Infra.Schema)
	check(c.Infra.Multiplicity >= 1, "infra.multiplicity must be at least 1")
	if err := c.Infra.Topology.Validate(); err != nil {
		errs = append(errs, err)
	}
	groups := make(map[string]bool)
	for _, g := range c.Infra.Topology.Groups() {
		groups[g] = true
	}
	for g := range c.Infra.Groups {
		check(groups[g], "infra.groups names unknown group %q", g)
	}

	check(c.Camera.InitialAltitude > 0, "camera.initial_altitude must be positive")
	check(c.Server.ClientFPS > 0, "server.client_fps must be positive")
	check(c.Server.ClientBurst >= 1, "server.client_burst must be at least 1")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// StartTime resolves Clock.Start, falling back to now.
func (c Config) StartTime(now time.Time) time.Time {
	if c.Clock.Start == "" {
		return now.UTC()
	}
	t, err := time.Parse(time.RFC3339, c.Clock.Start)
	if err != nil {
		return now.UTC()
	}
	return t.UTC()
}

// Color looks up key in the palette, falling back to the default color.
func (p PaletteConfig) Color(key string) string {
	if c, ok := p.Colors[key]; ok {
		return c
	}
	return p.Default
}
