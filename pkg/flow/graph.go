package flow

import (
	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
)

// Segment is one edge between consecutive nodes of a pipeline.
type Segment struct {
	PipelineID int64        `json:"pipeline_id"`
	Index      int          `json:"segment_index"`
	Start      geo.GeoPoint `json:"start"`
	End        geo.GeoPoint `json:"end"`
}

// Segments returns the consecutive node pairs of p. Malformed pipelines
// yield nothing.
func Segments(p ontology.Pipeline) []Segment {
	n := p.SegmentCount()
	if n == 0 {
		return nil
	}
	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		segs = append(segs, Segment{
			PipelineID: p.ID,
			Index:      i,
			Start:      p.Nodes[i],
			End:        p.Nodes[i+1],
		})
	}
	return segs
}

// PipelinesAdjacent reports whether any node of a lies within
// connectDistance of a node or segment of b, or the other way round.
// Crossing segments that pass far from every node are not detected.
func PipelinesAdjacent(a, b ontology.Pipeline, connectDistance float64) bool {
	if !a.WellFormed() || !b.WellFormed() {
		return false
	}
	return nodesNear(a.Nodes, b.Nodes, connectDistance)
}

// nodesNear applies the node-to-node, node-to-segment and segment-to-node
// checks between two polylines. Both must have at least one node; a single
// node is treated as a point with no segments.
func nodesNear(a, b []geo.GeoPoint, connectDistance float64) bool {
	for _, na := range a {
		for _, nb := range b {
			if geo.Distance(na, nb) <= connectDistance {
				return true
			}
		}
	}
	if pointsNearPolyline(a, b, connectDistance) {
		return true
	}
	return pointsNearPolyline(b, a, connectDistance)
}

func pointsNearPolyline(points, line []geo.GeoPoint, connectDistance float64) bool {
	for _, p := range points {
		for j := 0; j+1 < len(line); j++ {
			if geo.DistancePointToSegment(p, line[j], line[j+1]) <= connectDistance {
				return true
			}
		}
	}
	return false
}

// NearbyNode finds where a tank at loc enters p. Node indices are scanned in
// ascending order and the first node, or segment starting at that node,
// within connectDistance wins.
func NearbyNode(loc geo.GeoPoint, p ontology.Pipeline, connectDistance float64) (int, bool) {
	if !loc.Valid() || !p.WellFormed() {
		return 0, false
	}
	for i, node := range p.Nodes {
		if geo.Distance(loc, node) <= connectDistance {
			return i, true
		}
		if i+1 < len(p.Nodes) && geo.DistancePointToSegment(loc, node, p.Nodes[i+1]) <= connectDistance {
			return i, true
		}
	}
	return 0, false
}

// NearestNodeIndex returns the node of p closest to the polyline reached.
// Ties go to the lower index.
func NearestNodeIndex(reached []geo.GeoPoint, p ontology.Pipeline) int {
	best := 0
	bestDist := -1.0
	for i, node := range p.Nodes {
		d := distanceToPolyline(node, reached)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distanceToPolyline(p geo.GeoPoint, line []geo.GeoPoint) float64 {
	switch len(line) {
	case 0:
		return 0
	case 1:
		return geo.Distance(p, line[0])
	}
	shortest := -1.0
	for j := 0; j+1 < len(line); j++ {
		d := geo.DistancePointToSegment(p, line[j], line[j+1])
		if shortest < 0 || d < shortest {
			shortest = d
		}
	}
	return shortest
}
