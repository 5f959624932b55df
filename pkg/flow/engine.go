// Package flow computes which pipeline segments carry water from active
// tanks without crossing a closed valve.
package flow

import (
	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
)

const (
	DefaultConnectDistance = 50.0  // meters
	DefaultBlockDistance   = 15.0  // meters
	DefaultMaxIterations   = 10000 // dequeues
)

type Config struct {
	ConnectDistance float64 `koanf:"connect_distance"`
	BlockDistance   float64 `koanf:"block_distance"`
	MaxIterations   int     `koanf:"max_iterations"`
}

func DefaultConfig() Config {
	return Config{
		ConnectDistance: DefaultConnectDistance,
		BlockDistance:   DefaultBlockDistance,
		MaxIterations:   DefaultMaxIterations,
	}
}

// Snapshot is the consistent view of the network one computation runs on.
type Snapshot struct {
	Pipelines []ontology.Pipeline `json:"pipelines"`
	Tanks     []ontology.Tank     `json:"tanks"`
	Valves    []ontology.Valve    `json:"valves"`
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Pipelines: make([]ontology.Pipeline, len(s.Pipelines)),
		Tanks:     make([]ontology.Tank, len(s.Tanks)),
		Valves:    make([]ontology.Valve, len(s.Valves)),
	}
	copy(out.Tanks, s.Tanks)
	copy(out.Valves, s.Valves)
	for i, p := range s.Pipelines {
		p.Nodes = append([]geo.GeoPoint(nil), p.Nodes...)
		out.Pipelines[i] = p
	}
	return out
}

// Engine runs reachability computations. It holds no state between calls
// and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine fills zero config values with the defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.ConnectDistance <= 0 {
		cfg.ConnectDistance = DefaultConnectDistance
	}
	if cfg.BlockDistance <= 0 {
		cfg.BlockDistance = DefaultBlockDistance
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// entry is a queued entry point into a pipeline. pipeline indexes the
// snapshot slice so duplicate pipeline ids stay distinct.
type entry struct {
	pipeline int
	node     int
	tankID   string
}

type nodeKey struct {
	pipeline int
	node     int
}

// Compute runs a multi-source breadth-first search from every active tank.
// Each pipeline is scanned once from segment 0; a closed valve marks its
// segment blocked and ends the scan. A block only stops classification:
// the whole pipeline counts as reached, so its neighbours are discovered
// from all of its nodes.
func (e *Engine) Compute(snap Snapshot) Result {
	res := Result{
		Flowing: make([]FlowingSegment, 0),
		Blocked: make([]BlockedSegment, 0),
	}
	for _, p := range snap.Pipelines {
		res.TotalSegmentCount += p.SegmentCount()
	}

	closed := ClosedValves(snap.Valves)
	pipelines := snap.Pipelines

	var queue []entry
	visited := make(map[nodeKey]bool)
	queued := make([]bool, len(pipelines))
	scanned := make([]bool, len(pipelines))

	enqueue := func(en entry) {
		if visited[nodeKey{en.pipeline, en.node}] {
			return
		}
		queue = append(queue, en)
		queued[en.pipeline] = true
	}

	for _, t := range snap.Tanks {
		if !t.IsActive || !t.Location.Valid() {
			continue
		}
		for pi, p := range pipelines {
			if idx, ok := NearbyNode(t.Location, p, e.cfg.ConnectDistance); ok {
				enqueue(entry{pipeline: pi, node: idx, tankID: t.TankID})
			}
		}
	}

	for head := 0; head < len(queue); head++ {
		if res.Iterations >= e.cfg.MaxIterations {
			res.Truncated = true
			break
		}
		res.Iterations++

		en := queue[head]
		key := nodeKey{en.pipeline, en.node}
		if visited[key] {
			continue
		}
		visited[key] = true
		if scanned[en.pipeline] {
			continue
		}
		scanned[en.pipeline] = true

		p := pipelines[en.pipeline]
		for _, seg := range Segments(p) {
			if v, ok := BlockingValve(seg.Start, seg.End, closed, e.cfg.BlockDistance); ok {
				res.Blocked = append(res.Blocked, BlockedSegment{Segment: seg, ValveID: v.ValveID, SourceTankID: en.tankID})
				break
			}
			res.Flowing = append(res.Flowing, FlowingSegment{Segment: seg, SourceTankID: en.tankID})
		}

		for qi, q := range pipelines {
			if qi == en.pipeline || scanned[qi] || queued[qi] || !q.WellFormed() {
				continue
			}
			if PipelinesAdjacent(p, q, e.cfg.ConnectDistance) {
				enqueue(entry{pipeline: qi, node: NearestNodeIndex(p.Nodes, q), tankID: en.tankID})
			}
		}
	}

	return res
}

// Compute runs a single computation with cfg.
func Compute(snap Snapshot, cfg Config) Result {
	return NewEngine(cfg).Compute(snap)
}
