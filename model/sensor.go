package model

// FixCursor walks a fix history round-robin. It is a value type: Next returns
// the advanced cursor instead of mutating the receiver, so callers apply the
// side effect explicitly.
type FixCursor struct {
	Values []float64
	Pos    int
}

// Next returns the value under the cursor and the cursor advanced by one,
// wrapping at the end of the sequence.
func (c FixCursor) Next() (float64, FixCursor) {
	n := len(c.Values)
	if n == 0 {
		return 0, c
	}
	i := c.Pos % n
	if i < 0 {
		i += n
	}
	c.Pos = (i + 1) % n
	return c.Values[i], c
}

// Reset returns the cursor rewound to the start of the sequence.
func (c FixCursor) Reset() FixCursor {
	c.Pos = 0
	return c
}

// First returns the oldest fix.
func (c FixCursor) First() (float64, bool) {
	if len(c.Values) == 0 {
		return 0, false
	}
	return c.Values[0], true
}

// Sensor is an in-situ platform with a history of fixes. Lat and Lng are
// independent cursors and may diverge when the histories differ in length.
type Sensor struct {
	ID    string
	Type  string
	Lat   FixCursor
	Lng   FixCursor
	Color string
}

func (s *Sensor) Kind() string { return KindSensor }
func (s *Sensor) Key() string  { return s.ID }
func (s *Sensor) Moving() bool { return false }

// Location anchors the sensor at its first fix.
func (s *Sensor) Location() (lat, lng float64, ok bool) {
	lat, okLat := s.Lat.First()
	lng, okLng := s.Lng.First()
	return lat, lng, okLat && okLng
}
