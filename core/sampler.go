package core

import "github.com/signalsfoundry/globe-engine/model"

// Sample keeps every factor-th slot of items, starting with the first,
// skipping slots for which present reports false. It never mutates items.
// A factor below 1 keeps every slot.
func Sample[T any](items []T, factor int, present func(T) bool) []T {
	if factor < 1 {
		factor = 1
	}
	out := make([]T, 0, (len(items)+factor-1)/factor)
	for i := 0; i < len(items); i += factor {
		if present != nil && !present(items[i]) {
			continue
		}
		out = append(out, items[i])
	}
	return out
}

// ResetCursors rewinds both fix cursors of every sensor to the first fix.
func ResetCursors(sensors []*model.Sensor) {
	for _, s := range sensors {
		if s == nil {
			continue
		}
		s.Lat = s.Lat.Reset()
		s.Lng = s.Lng.Reset()
	}
}
