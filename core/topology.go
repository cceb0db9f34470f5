package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/globe-engine/model"
)

// DefaultRouteMultiplicity is the number of parallel edges emitted per
// (leaf, hub) pair. It only densifies the animated arcs.
const DefaultRouteMultiplicity = 3

// HubRole places a subtype in the two-level hub-and-spoke hierarchy.
type HubRole string

const (
	RoleCentral  HubRole = "central"
	RoleRegional HubRole = "regional"
	RoleLeaf     HubRole = "leaf"
)

// Direction says which endpoint of a route edge is the source.
type Direction string

const (
	HubToLeaf Direction = "hub_to_leaf"
	LeafToHub Direction = "leaf_to_hub"
)

// SubtypeRule maps an infrastructure subtype onto the hierarchy. AttachTo
// names the hub subtype a leaf or regional hub hangs off; empty means the
// central hub. Group is the visibility flag gating nodes of this subtype.
type SubtypeRule struct {
	Subtype  string  `toml:"subtype"`
	Role     HubRole `toml:"role"`
	AttachTo string  `toml:"attach_to"`
	Group    string  `toml:"group"`
}

// TypeRule sets the edge direction for leaves of a given primary type.
type TypeRule struct {
	Type      string    `toml:"type"`
	Direction Direction `toml:"direction"`
}

// HubTable is the declarative subtype-to-hub mapping consumed by BuildRoutes.
type HubTable struct {
	Subtypes         []SubtypeRule `toml:"subtypes"`
	Types            []TypeRule    `toml:"types"`
	DefaultDirection Direction     `toml:"default_direction"`
}

var ErrInvalidHubTable = errors.New("invalid hub table")

// DefaultHubTable reproduces the compute/producer topology around a single
// EDITO hub.
func DefaultHubTable() HubTable {
	return HubTable{
		Subtypes: []SubtypeRule{
			{Subtype: "EDITO", Role: RoleCentral, Group: "hubs"},
			{Subtype: "HPC", Role: RoleLeaf, AttachTo: "EDITO", Group: "hubs"},
			{Subtype: "PRODUCER", Role: RoleLeaf, AttachTo: "EDITO", Group: "producers"},
		},
		Types: []TypeRule{
			{Type: "HPC", Direction: HubToLeaf},
			{Type: "PRODUCER", Direction: LeafToHub},
		},
		DefaultDirection: HubToLeaf,
	}
}

// Validate checks that the table resolves every subtype to exactly one hub.
func (h HubTable) Validate() error {
	subtypes := make(map[string]SubtypeRule, len(h.Subtypes))
	central := 0
	for _, r := range h.Subtypes {
		if r.Subtype == "" {
			return fmt.Errorf("%w: empty subtype", ErrInvalidHubTable)
		}
		if _, dup := subtypes[r.Subtype]; dup {
			return fmt.Errorf("%w: duplicate subtype %q", ErrInvalidHubTable, r.Subtype)
		}
		switch r.Role {
		case RoleCentral:
			central++
		case RoleRegional, RoleLeaf:
		default:
			return fmt.Errorf("%w: subtype %q has unknown role %q", ErrInvalidHubTable, r.Subtype, r.Role)
		}
		subtypes[r.Subtype] = r
	}
	if central != 1 {
		return fmt.Errorf("%w: want exactly one central subtype, got %d", ErrInvalidHubTable, central)
	}

	for _, r := range h.Subtypes {
		if r.AttachTo == "" {
			continue
		}
		if r.Role == RoleCentral {
			return fmt.Errorf("%w: central subtype %q cannot attach to %q", ErrInvalidHubTable, r.Subtype, r.AttachTo)
		}
		if r.AttachTo == r.Subtype {
			return fmt.Errorf("%w: subtype %q attaches to itself", ErrInvalidHubTable, r.Subtype)
		}
		target, ok := subtypes[r.AttachTo]
		if !ok {
			return fmt.Errorf("%w: subtype %q attaches to unknown subtype %q", ErrInvalidHubTable, r.Subtype, r.AttachTo)
		}
		if target.Role == RoleLeaf {
			return fmt.Errorf("%w: subtype %q attaches to leaf subtype %q", ErrInvalidHubTable, r.Subtype, r.AttachTo)
		}
		if r.Role == RoleRegional && target.Role != RoleCentral {
			return fmt.Errorf("%w: regional subtype %q must attach to the central hub", ErrInvalidHubTable, r.Subtype)
		}
	}

	types := make(map[string]struct{}, len(h.Types))
	for _, r := range h.Types {
		if _, dup := types[r.Type]; dup {
			return fmt.Errorf("%w: duplicate type %q", ErrInvalidHubTable, r.Type)
		}
		if !validDirection(r.Direction) {
			return fmt.Errorf("%w: type %q has unknown direction %q", ErrInvalidHubTable, r.Type, r.Direction)
		}
		types[r.Type] = struct{}{}
	}
	if h.DefaultDirection != "" && !validDirection(h.DefaultDirection) {
		return fmt.Errorf("%w: unknown default direction %q", ErrInvalidHubTable, h.DefaultDirection)
	}
	return nil
}

func validDirection(d Direction) bool {
	return d == HubToLeaf || d == LeafToHub
}

// Rule returns the subtype rule for subtype.
func (h HubTable) Rule(subtype string) (SubtypeRule, bool) {
	for _, r := range h.Subtypes {
		if r.Subtype == subtype {
			return r, true
		}
	}
	return SubtypeRule{}, false
}

// Groups lists the distinct visibility groups in table order.
func (h HubTable) Groups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range h.Subtypes {
		if r.Group == "" || seen[r.Group] {
			continue
		}
		seen[r.Group] = true
		out = append(out, r.Group)
	}
	return out
}

func (h HubTable) direction(nodeType string) Direction {
	for _, r := range h.Types {
		if r.Type == nodeType {
			return r.Direction
		}
	}
	if h.DefaultDirection != "" {
		return h.DefaultDirection
	}
	return HubToLeaf
}

// RouteStats reports nodes BuildRoutes could not place.
type RouteStats struct {
	Unmapped int // subtype has no rule
	Orphaned int // no hub available to attach to
}

// BuildRoutes derives hub-and-spoke edges from nodes. The first node of each
// hub subtype is that subtype's hub; further nodes of a hub subtype attach
// like leaves. Leaves whose AttachTo hub is absent fall back to the central
// hub. Each (leaf, hub) pair yields multiplicity parallel edges tagged with
// the leaf's type; a non-positive multiplicity uses the default.
func BuildRoutes(nodes []*model.InfraNode, table HubTable, multiplicity int) ([]model.RouteEdge, RouteStats) {
	if multiplicity <= 0 {
		multiplicity = DefaultRouteMultiplicity
	}

	var stats RouteStats
	hubs := make(map[string]*model.InfraNode)
	var central *model.InfraNode
	for _, n := range nodes {
		rule, ok := table.Rule(n.Subtype)
		if !ok || rule.Role == RoleLeaf {
			continue
		}
		if _, taken := hubs[n.Subtype]; taken {
			continue
		}
		hubs[n.Subtype] = n
		if rule.Role == RoleCentral {
			central = n
		}
	}

	var edges []model.RouteEdge
	for _, n := range nodes {
		rule, ok := table.Rule(n.Subtype)
		if !ok {
			stats.Unmapped++
			continue
		}
		if hubs[n.Subtype] == n && rule.Role == RoleCentral {
			continue
		}

		hub := central
		if rule.AttachTo != "" {
			if h, ok := hubs[rule.AttachTo]; ok {
				hub = h
			}
		}
		if hubs[n.Subtype] == n && rule.Role == RoleRegional {
			hub = central
		}
		if rule.Role == RoleCentral {
			// Duplicate central node: treat as a leaf of the first one.
			hub = central
		}
		if hub == nil || hub == n {
			stats.Orphaned++
			continue
		}

		src, dst := hub, n
		if table.direction(n.Type) == LeafToHub {
			src, dst = n, hub
		}
		for i := 0; i < multiplicity; i++ {
			edges = append(edges, model.RouteEdge{Src: src, Dst: dst, Type: n.Type})
		}
	}
	return edges, stats
}
