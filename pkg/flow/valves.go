package flow

import (
	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
)

// BlockingValve returns the first closed valve, in collection order, lying
// within blockDistance of segment start-end. Open valves and valves with
// non-finite locations never block.
func BlockingValve(start, end geo.GeoPoint, valves []ontology.Valve, blockDistance float64) (*ontology.Valve, bool) {
	for i := range valves {
		v := &valves[i]
		if v.IsOpen || !v.Location.Valid() {
			continue
		}
		if geo.DistancePointToSegment(v.Location, start, end) <= blockDistance {
			return v, true
		}
	}
	return nil, false
}

// ClosedValves filters valves down to the ones that can block flow.
func ClosedValves(valves []ontology.Valve) []ontology.Valve {
	closed := make([]ontology.Valve, 0, len(valves))
	for _, v := range valves {
		if !v.IsOpen {
			closed = append(closed, v)
		}
	}
	return closed
}
