package flow

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
)

func pt(lat, lng float64) geo.GeoPoint { return geo.GeoPoint{Lat: lat, Lng: lng} }

func activeTank(id string, lat, lng float64) ontology.Tank {
	return ontology.Tank{TankID: id, Location: pt(lat, lng), IsActive: true}
}

func closedValve(id string, lat, lng float64) ontology.Valve {
	return ontology.Valve{ValveID: id, Location: pt(lat, lng), IsOpen: false}
}

// straight builds a pipeline heading north from (lat, lng) with n segments of
// 0.001 degrees (about 111 m) each.
func straight(id int64, lat, lng float64, n int) ontology.Pipeline {
	nodes := make([]geo.GeoPoint, n+1)
	for i := range nodes {
		nodes[i] = pt(lat+float64(i)*0.001, lng)
	}
	return ontology.Pipeline{ID: id, Nodes: nodes}
}

func TestCompute_SinglePipelineFullyFlowing(t *testing.T) {
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 2)},
	}

	res := Compute(snap, DefaultConfig())

	assert.Equal(t, 2, res.TotalSegmentCount)
	assert.Len(t, res.Flowing, 2)
	assert.Empty(t, res.Blocked)
	assert.True(t, res.IsFlowing(1, 0))
	assert.True(t, res.IsFlowing(1, 1))
	assert.InDelta(t, 1.0, res.Coverage(), 1e-9)
	for _, s := range res.Flowing {
		assert.Equal(t, "T", s.SourceTankID)
	}
	assert.False(t, res.Truncated)
}

func TestCompute_ClosedValveBlocksSecondSegment(t *testing.T) {
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 2)},
		Valves:    []ontology.Valve{closedValve("V1", 17.0015, 78.0)},
	}

	res := Compute(snap, DefaultConfig())

	assert.True(t, res.IsFlowing(1, 0))
	assert.False(t, res.IsFlowing(1, 1))
	valveID, blocked := res.BlockedBy(1, 1)
	require.True(t, blocked)
	assert.Equal(t, "V1", valveID)
	assert.InDelta(t, 0.5, res.Coverage(), 1e-9)
}

func TestCompute_OpenValveDoesNotBlock(t *testing.T) {
	v := closedValve("V1", 17.0015, 78.0)
	v.IsOpen = true
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 2)},
		Valves:    []ontology.Valve{v},
	}

	res := Compute(snap, DefaultConfig())
	assert.Len(t, res.Flowing, 2)
	assert.Empty(t, res.Blocked)
}

func TestCompute_DisjointPipelineUntouched(t *testing.T) {
	snap := Snapshot{
		Tanks: []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{
			straight(1, 17.0, 78.0, 2),
			straight(2, 17.0, 78.1, 3),
		},
	}

	res := Compute(snap, DefaultConfig())

	assert.Equal(t, 5, res.TotalSegmentCount)
	assert.Len(t, res.Flowing, 2)
	for i := 0; i < 3; i++ {
		assert.False(t, res.IsFlowing(2, i))
		_, blocked := res.BlockedBy(2, i)
		assert.False(t, blocked)
	}
}

func TestCompute_BlockingCutsDownstream(t *testing.T) {
	const n = 6
	for k := 0; k < n; k++ {
		snap := Snapshot{
			Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
			Pipelines: []ontology.Pipeline{straight(7, 17.0, 78.0, n)},
			Valves:    []ontology.Valve{closedValve("V", 17.0+float64(k)*0.001+0.0005, 78.0)},
		}

		res := Compute(snap, DefaultConfig())

		for i := 0; i < n; i++ {
			_, blocked := res.BlockedBy(7, i)
			switch {
			case i < k:
				assert.True(t, res.IsFlowing(7, i), "k=%d segment %d should flow", k, i)
				assert.False(t, blocked)
			case i == k:
				assert.False(t, res.IsFlowing(7, i))
				assert.True(t, blocked, "k=%d segment %d should be blocked", k, i)
			default:
				assert.False(t, res.IsFlowing(7, i), "k=%d segment %d should be untouched", k, i)
				assert.False(t, blocked, "k=%d segment %d should be untouched", k, i)
			}
		}
	}
}

func TestCompute_NoActiveTanks(t *testing.T) {
	inactive := activeTank("T", 17.0, 78.0)
	inactive.IsActive = false
	snap := Snapshot{
		Tanks:     []ontology.Tank{inactive},
		Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 2), straight(2, 18.0, 78.0, 4)},
		Valves:    []ontology.Valve{closedValve("V1", 17.0015, 78.0)},
	}

	res := Compute(snap, DefaultConfig())

	assert.Empty(t, res.Flowing)
	assert.Empty(t, res.Blocked)
	assert.Equal(t, 6, res.TotalSegmentCount)
	assert.Zero(t, res.Coverage())
}

func TestCompute_PropagatesToAdjacentPipeline(t *testing.T) {
	// P2 starts 20 m east of the end of P1.
	p1 := straight(1, 17.0, 78.0, 2)
	p2 := ontology.Pipeline{ID: 2, Nodes: []geo.GeoPoint{pt(17.002, 78.0002), pt(17.002, 78.0012), pt(17.002, 78.0022)}}
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{p1, p2},
	}

	res := Compute(snap, DefaultConfig())

	assert.Len(t, res.Flowing, 4)
	assert.True(t, res.IsFlowing(2, 0))
	assert.True(t, res.IsFlowing(2, 1))
	for _, s := range res.Flowing {
		assert.Equal(t, "T", s.SourceTankID)
	}
}

func TestCompute_BlockedPipelineStillReachesNeighbours(t *testing.T) {
	// P2 hangs off the far end of P1, past a closed valve. The valve stops
	// the scan of P1 but P1 as a whole is reached, so P2 still fills.
	p1 := straight(1, 17.0, 78.0, 2)
	p2 := ontology.Pipeline{ID: 2, Nodes: []geo.GeoPoint{pt(17.002, 78.0002), pt(17.002, 78.0012)}}
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{p1, p2},
		Valves:    []ontology.Valve{closedValve("V1", 17.0015, 78.0)},
	}
	require.True(t, PipelinesAdjacent(p1, p2, DefaultConfig().ConnectDistance))

	res := Compute(snap, DefaultConfig())

	assert.True(t, res.IsFlowing(1, 0))
	valveID, blocked := res.BlockedBy(1, 1)
	assert.True(t, blocked)
	assert.Equal(t, "V1", valveID)
	assert.True(t, res.IsFlowing(2, 0))
	assert.Len(t, res.Flowing, 2)
	assert.Len(t, res.Blocked, 1)
}

func TestCompute_DuplicatePipelineIDsScannedSeparately(t *testing.T) {
	// Two chained pipelines sharing id 5.
	snap := Snapshot{
		Tanks: []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{
			straight(5, 17.0, 78.0, 2),
			straight(5, 17.002, 78.0, 2),
		},
	}

	res := Compute(snap, DefaultConfig())

	assert.Equal(t, 4, res.TotalSegmentCount)
	assert.Len(t, res.Flowing, 4)
	assert.InDelta(t, 1.0, res.Coverage(), 1e-9)
}

func TestCompute_EmptyResultEncodesEmptyLists(t *testing.T) {
	res := Compute(Snapshot{Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 1)}}, DefaultConfig())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"flowing_segments":[]`)
	assert.Contains(t, string(data), `"blocked_segments":[]`)
}

func TestCompute_MalformedPipelinesAreInert(t *testing.T) {
	snap := Snapshot{
		Tanks: []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{
			{ID: 1, Nodes: []geo.GeoPoint{pt(17.0, 78.0)}},
			{ID: 2, Nodes: []geo.GeoPoint{pt(17.0, 78.0), pt(math.NaN(), 78.0)}},
			{ID: 3},
			straight(4, 17.0, 78.0, 1),
		},
	}

	var res Result
	require.NotPanics(t, func() { res = Compute(snap, DefaultConfig()) })
	assert.Equal(t, 1, res.TotalSegmentCount)
	assert.Len(t, res.Flowing, 1)
	assert.True(t, res.IsFlowing(4, 0))
}

func TestCompute_Idempotent(t *testing.T) {
	snap := Snapshot{
		Tanks: []ontology.Tank{activeTank("A", 17.0, 78.0), activeTank("B", 17.0, 78.1)},
		Pipelines: []ontology.Pipeline{
			straight(1, 17.0, 78.0, 3),
			straight(2, 17.0, 78.1, 3),
			{ID: 3, Nodes: []geo.GeoPoint{pt(17.003, 78.0002), pt(17.003, 78.05)}},
		},
		Valves: []ontology.Valve{closedValve("V", 17.0025, 78.1)},
	}

	eng := NewEngine(DefaultConfig())
	assert.Equal(t, eng.Compute(snap), eng.Compute(snap))
}

func TestCompute_MoreTanksNeverShrinkFlow(t *testing.T) {
	base := Snapshot{
		Tanks: []ontology.Tank{activeTank("A", 17.0, 78.0)},
		Pipelines: []ontology.Pipeline{
			straight(1, 17.0, 78.0, 3),
			straight(2, 17.0, 78.1, 3),
			{ID: 3, Nodes: []geo.GeoPoint{pt(17.003, 78.0002), pt(17.003, 78.0998)}},
		},
		Valves: []ontology.Valve{closedValve("V", 17.0015, 78.0)},
	}
	more := base.Clone()
	more.Tanks = append(more.Tanks, activeTank("B", 17.0, 78.1))

	before := Compute(base, DefaultConfig())
	after := Compute(more, DefaultConfig())

	assert.GreaterOrEqual(t, len(after.Flowing), len(before.Flowing))
	for _, s := range before.Flowing {
		assert.True(t, after.IsFlowing(s.PipelineID, s.Index), "pipeline %d segment %d", s.PipelineID, s.Index)
	}
}

func TestCompute_IterationCapTruncates(t *testing.T) {
	var pipelines []ontology.Pipeline
	for i := 0; i < 5; i++ {
		// A chain of pipelines each starting where the previous one ends.
		pipelines = append(pipelines, straight(int64(i+1), 17.0+float64(i)*0.002, 78.0, 2))
	}
	snap := Snapshot{
		Tanks:     []ontology.Tank{activeTank("T", 17.0, 78.0)},
		Pipelines: pipelines,
	}

	full := Compute(snap, DefaultConfig())
	require.False(t, full.Truncated)
	assert.Len(t, full.Flowing, 10)

	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	partial := Compute(snap, cfg)
	assert.True(t, partial.Truncated)
	assert.Equal(t, 2, partial.Iterations)
	assert.Less(t, len(partial.Flowing), len(full.Flowing))
	assert.Equal(t, full.TotalSegmentCount, partial.TotalSegmentCount)
}

func TestNewEngine_Defaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), NewEngine(Config{}).Config())
}

func TestSnapshot_CloneDetaches(t *testing.T) {
	snap := Snapshot{Pipelines: []ontology.Pipeline{straight(1, 17.0, 78.0, 1)}}
	c := snap.Clone()
	c.Pipelines[0].Nodes[0] = pt(0, 0)
	assert.Equal(t, pt(17.0, 78.0), snap.Pipelines[0].Nodes[0])
}
