package flow

// FlowingSegment is a segment reached by flow from an active tank.
type FlowingSegment struct {
	Segment
	SourceTankID string `json:"source_tank_id"`
}

// BlockedSegment is the segment where a closed valve stopped the scan of a
// pipeline.
type BlockedSegment struct {
	Segment
	ValveID      string `json:"valve_id"`
	SourceTankID string `json:"source_tank_id"`
}

// Result partitions every segment of a snapshot into flowing, blocked or
// untouched. Untouched segments are the ones in neither list. A Result is
// never modified after Compute returns it.
type Result struct {
	Flowing           []FlowingSegment `json:"flowing_segments"`
	Blocked           []BlockedSegment `json:"blocked_segments"`
	TotalSegmentCount int              `json:"total_segment_count"`
	Iterations        int              `json:"iterations"`
	Truncated         bool             `json:"truncated"`
}

// Coverage is the fraction of all segments that carry flow, in [0, 1].
func (r Result) Coverage() float64 {
	if r.TotalSegmentCount == 0 {
		return 0
	}
	return float64(len(r.Flowing)) / float64(r.TotalSegmentCount)
}

// IsFlowing reports whether the given segment carries flow.
func (r Result) IsFlowing(pipelineID int64, index int) bool {
	for _, s := range r.Flowing {
		if s.PipelineID == pipelineID && s.Index == index {
			return true
		}
	}
	return false
}

// BlockedBy returns the id of the valve blocking the given segment.
func (r Result) BlockedBy(pipelineID int64, index int) (string, bool) {
	for _, s := range r.Blocked {
		if s.PipelineID == pipelineID && s.Index == index {
			return s.ValveID, true
		}
	}
	return "", false
}

// Summary is the compact form of a Result carried on events and metrics.
type Summary struct {
	FlowingCount      int     `json:"flowing_count"`
	BlockedCount      int     `json:"blocked_count"`
	TotalSegmentCount int     `json:"total_segment_count"`
	Coverage          float64 `json:"coverage"`
	Truncated         bool    `json:"truncated"`
}

func (r Result) Summary() Summary {
	return Summary{
		FlowingCount:      len(r.Flowing),
		BlockedCount:      len(r.Blocked),
		TotalSegmentCount: r.TotalSegmentCount,
		Coverage:          r.Coverage(),
		Truncated:         r.Truncated,
	}
}
