package services

import (
	"context"

	"waterwatch/pkg/ontology"
)

// SnapshotStore reads the network state a flow computation runs on.
type SnapshotStore struct {
	Tanks     *TankService
	Valves    *ValveService
	Pipelines *PipelineService
}

func (s *SnapshotStore) ListPipelines(ctx context.Context) ([]ontology.Pipeline, error) {
	return s.Pipelines.ListPipelines(ctx)
}

func (s *SnapshotStore) ListActiveTanks(ctx context.Context) ([]ontology.Tank, error) {
	return s.Tanks.ListActiveTanks(ctx)
}

func (s *SnapshotStore) ListClosedValves(ctx context.Context) ([]ontology.Valve, error) {
	return s.Valves.ListClosedValves(ctx)
}
