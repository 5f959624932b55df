// Package geo holds the geographic primitives shared by the flow engine and
// the valve placement endpoint.
package geo

import "math"

// EarthRadius is the mean radius in meters used by the dashboard map, so
// distances computed here agree with what operators measure in the UI.
const EarthRadius = 6371000.0

// GeoPoint is an immutable latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite numbers.
func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// DistancePointToSegment returns the distance in meters from p to the
// closest point of segment a-b.
func DistancePointToSegment(p, a, b GeoPoint) float64 {
	return Distance(p, ClosestPointOnSegment(p, a, b))
}

// ClosestPointOnSegment projects p onto segment a-b. The projection runs in
// lat/lng space and is clamped to the segment ends; a degenerate segment
// (a == b) projects onto a.
func ClosestPointOnSegment(p, a, b GeoPoint) GeoPoint {
	t := projection(p, a, b)
	return GeoPoint{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
}

// projection returns the clamped scalar t of p along a-b.
func projection(p, a, b GeoPoint) float64 {
	dx := b.Lat - a.Lat
	dy := b.Lng - a.Lng
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return 0
	}

	t := ((p.Lat-a.Lat)*dx + (p.Lng-a.Lng)*dy) / lenSq
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
