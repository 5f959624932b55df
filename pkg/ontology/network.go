package ontology

import (
	"time"

	"waterwatch/pkg/geo"
)

type Valve struct {
	ValveID       string       `json:"valve_id" db:"valve_id"`
	Name          string       `json:"name,omitempty" db:"name"`
	Location      geo.GeoPoint `json:"location"`
	IsOpen        bool         `json:"is_open" db:"is_open"`
	ParentValveID string       `json:"parent_valve_id,omitempty" db:"parent_valve_id"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

type CreateValveRequest struct {
	ValveID       string       `json:"valve_id,omitempty"`
	Name          string       `json:"name,omitempty"`
	Location      geo.GeoPoint `json:"location" validate:"required"`
	IsOpen        *bool        `json:"is_open,omitempty"`
	ParentValveID string       `json:"parent_valve_id,omitempty"`
}

type UpdateValveRequest struct {
	Name          *string       `json:"name,omitempty"`
	Location      *geo.GeoPoint `json:"location,omitempty"`
	IsOpen        *bool         `json:"is_open,omitempty"`
	ParentValveID *string       `json:"parent_valve_id,omitempty"`
}

// Pipeline is a polyline of geographic nodes. Connectivity between pipelines
// is derived from proximity and never stored.
type Pipeline struct {
	ID        int64          `json:"id" db:"id"`
	Name      string         `json:"name,omitempty" db:"name"`
	Nodes     []geo.GeoPoint `json:"nodes" db:"nodes"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

type CreatePipelineRequest struct {
	Name  string         `json:"name,omitempty"`
	Nodes []geo.GeoPoint `json:"nodes" validate:"required,min=2"`
}

type UpdatePipelineRequest struct {
	Name  *string        `json:"name,omitempty"`
	Nodes []geo.GeoPoint `json:"nodes,omitempty"`
}

// WellFormed reports whether the pipeline has at least two nodes and every
// node has finite coordinates.
func (p Pipeline) WellFormed() bool {
	if len(p.Nodes) < 2 {
		return false
	}
	for _, n := range p.Nodes {
		if !n.Valid() {
			return false
		}
	}
	return true
}

// SegmentCount is the number of consecutive node pairs. Malformed pipelines
// have none.
func (p Pipeline) SegmentCount() int {
	if !p.WellFormed() {
		return 0
	}
	return len(p.Nodes) - 1
}
