package layers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/globe-engine/core"
	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/model"
)

// Infrastructure row schemas.
const (
	SchemaV1 = "v1" // id,name,city,country,type,lat,lng
	SchemaV2 = "v2" // id,name,city,country,type,subtype,color,lat,lng[,infoUrl]
)

// ErrUnknownGroup is returned by ToggleGroup for groups the hub table does
// not define.
var ErrUnknownGroup = errors.New("unknown infrastructure group")

// InfraData is one loaded infrastructure snapshot.
type InfraData struct {
	Nodes  []*model.InfraNode
	Routes []model.RouteEdge
	Stats  core.RouteStats
}

// Infra is the infrastructure node layer with its derived routes.
type Infra struct {
	*Store[InfraData]

	src     datasource.Source
	cfg     config.InfraConfig
	palette config.PaletteConfig
	deps    Deps

	// groups is read by fetch goroutines.
	mu     sync.Mutex
	groups map[string]bool
}

// NewInfra builds the hidden infrastructure layer. Groups missing from
// cfg.Groups start enabled.
func NewInfra(src datasource.Source, cfg config.InfraConfig, palette config.PaletteConfig, deps Deps) *Infra {
	l := &Infra{
		src:     src,
		cfg:     cfg,
		palette: palette,
		deps:    deps.withDefaults(),
		groups:  make(map[string]bool),
	}
	for _, g := range cfg.Topology.Groups() {
		enabled, ok := cfg.Groups[g]
		l.groups[g] = !ok || enabled
	}
	l.Store = NewStore(NameInfra, l.deps, l.load, func(d InfraData) int { return len(d.Nodes) })
	return l
}

// Groups returns the group flags sorted by name.
func (l *Infra) Groups() []GroupFlag {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]GroupFlag, 0, len(l.groups))
	for name, on := range l.groups {
		out = append(out, GroupFlag{Name: name, Enabled: on})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GroupFlag is one infrastructure visibility group.
type GroupFlag struct {
	Name    string
	Enabled bool
}

// GroupEnabled reports the flag for name.
func (l *Infra) GroupEnabled(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groups[name]
}

// ToggleGroup flips a group flag and, if the layer is showing or loading,
// refetches and rebuilds it. It returns the new flag.
func (l *Infra) ToggleGroup(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	on, ok := l.groups[name]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	on = !on
	l.groups[name] = on
	l.mu.Unlock()

	l.Reload(ctx)
	return on, nil
}

// Nodes returns the visible nodes.
func (l *Infra) Nodes() []*model.InfraNode { return l.Data().Nodes }

// Routes returns the derived route edges.
func (l *Infra) Routes() []model.RouteEdge { return l.Data().Routes }

// Find returns the node with the given id.
func (l *Infra) Find(id string) (*model.InfraNode, bool) {
	for _, n := range l.Data().Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

func (l *Infra) load(ctx context.Context) (InfraData, error) {
	rc, err := l.src.Open(ctx, l.cfg.Path)
	if err != nil {
		return InfraData{}, fmt.Errorf("open %s: %w", l.cfg.Path, err)
	}
	defer rc.Close()

	nodes, dropped, err := ParseInfraRows(rc, l.cfg.Schema, l.palette)
	if err != nil {
		return InfraData{}, err
	}
	if dropped > 0 {
		l.deps.Recorder.AddRowsDropped(NameInfra, dropped)
		l.deps.Log.Debug(ctx, "infrastructure rows dropped", logging.Int("dropped", dropped))
	}

	nodes = l.filterGroups(nodes)
	routes, stats := core.BuildRoutes(nodes, l.cfg.Topology, l.cfg.Multiplicity)
	if stats.Unmapped > 0 || stats.Orphaned > 0 {
		l.deps.Log.Info(ctx, "infrastructure nodes without routes",
			logging.Int("unmapped", stats.Unmapped),
			logging.Int("orphaned", stats.Orphaned),
		)
	}
	return InfraData{Nodes: nodes, Routes: routes, Stats: stats}, nil
}

func (l *Infra) filterGroups(nodes []*model.InfraNode) []*model.InfraNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := nodes[:0]
	for _, n := range nodes {
		if rule, ok := l.cfg.Topology.Rule(n.Subtype); ok && rule.Group != "" && !l.groups[rule.Group] {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

// ParseInfraRows reads headerless CSV infrastructure rows. A leading header
// row whose first field is "id" is skipped. Rows that are too short or carry
// unparsable coordinates are dropped and counted.
func ParseInfraRows(r io.Reader, schema string, palette config.PaletteConfig) ([]*model.InfraNode, int, error) {
	minFields := 7
	switch schema {
	case SchemaV1, "":
		schema = SchemaV1
	case SchemaV2:
		minFields = 9
	default:
		return nil, 0, fmt.Errorf("unknown infrastructure schema %q", schema)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var nodes []*model.InfraNode
	dropped := 0
	for first := true; ; first = false {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				dropped++
				continue
			}
			return nil, dropped, fmt.Errorf("read infrastructure rows: %w", err)
		}
		if first && strings.EqualFold(strings.TrimSpace(row[0]), "id") {
			continue
		}
		if len(row) < minFields {
			dropped++
			continue
		}
		n, ok := parseInfraRow(row, schema)
		if !ok {
			dropped++
			continue
		}
		if n.Color == "" {
			n.Color = palette.Color(n.Type)
		}
		nodes = append(nodes, n)
	}
	return nodes, dropped, nil
}

func parseInfraRow(row []string, schema string) (*model.InfraNode, bool) {
	field := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	n := &model.InfraNode{
		ID:      field(0),
		Name:    field(1),
		City:    field(2),
		Country: field(3),
		Type:    field(4),
	}
	latIdx, lngIdx := 5, 6
	if schema == SchemaV2 {
		n.Subtype = field(5)
		n.Color = field(6)
		n.InfoURL = field(9)
		latIdx, lngIdx = 7, 8
	}
	if n.Subtype == "" {
		n.Subtype = n.Type
	}
	if n.ID == "" {
		return nil, false
	}

	var ok bool
	if n.Lat, ok = parseCoord(field(latIdx), 90); !ok {
		return nil, false
	}
	if n.Lng, ok = parseCoord(field(lngIdx), 180); !ok {
		return nil, false
	}
	return n, true
}

// parseCoord parses a finite coordinate within [-limit, limit].
func parseCoord(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}
