package model

// InfraNode is a ground infrastructure site. Nodes are static for a session.
type InfraNode struct {
	ID      string
	Name    string
	City    string
	Country string

	// Type is the primary role (e.g. "HPC", "PRODUCER"); it picks the edge
	// direction. Subtype picks layer membership and hub attachment.
	Type    string
	Subtype string

	Color   string
	Lat     float64
	Lng     float64
	InfoURL string
}

func (n *InfraNode) Kind() string { return KindInfra }
func (n *InfraNode) Key() string  { return n.ID }
func (n *InfraNode) Moving() bool { return false }

func (n *InfraNode) Location() (lat, lng float64, ok bool) {
	return n.Lat, n.Lng, true
}

// RouteEdge is a derived directed link between two infrastructure nodes. Type
// is inherited from the non-hub endpoint.
type RouteEdge struct {
	Src  *InfraNode
	Dst  *InfraNode
	Type string
}
