package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"waterwatch/api/services"
	"waterwatch/db"
	"waterwatch/pkg/flow"
	"waterwatch/pkg/services/flowstate"
	"waterwatch/pkg/shared"
)

func runFlow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snapshotFile, _ := cmd.Flags().GetString("snapshot")
	summaryOnly, _ := cmd.Flags().GetBool("summary")

	flowCfg := flow.Config{
		ConnectDistance: cfg.Flow.ConnectDistance,
		BlockDistance:   cfg.Flow.BlockDistance,
		MaxIterations:   cfg.Flow.MaxIterations,
	}

	var state flowstate.State
	if snapshotFile != "" {
		snap, err := readSnapshot(snapshotFile)
		if err != nil {
			return err
		}
		state = flowstate.State{
			Result:     flow.Compute(snap, flowCfg),
			Reason:     shared.ReasonManual,
			ComputedAt: time.Now().UTC(),
			Sequence:   1,
		}
	} else {
		dbCfg := db.DefaultConfig()
		dbCfg.DBPath = cfg.Database.Path
		dbCfg.AutoInitialize = cfg.Database.AutoInitialize
		dbService, err := db.New(dbCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize database service: %w", err)
		}
		defer dbService.Close()

		sqlDB := dbService.GetDB()
		pipelines := services.NewPipelineService(sqlDB, nil, nil)
		provider := &services.SnapshotStore{
			Tanks:     services.NewTankService(sqlDB, nil, nil),
			Valves:    services.NewValveService(sqlDB, pipelines, nil, nil),
			Pipelines: pipelines,
		}
		recomputer := flowstate.NewRecomputer(flowstate.Config{Flow: flowCfg}, provider, nil)
		defer recomputer.Stop()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if state, err = recomputer.RecomputeNow(ctx, shared.ReasonManual); err != nil {
			return err
		}
	}

	if summaryOnly {
		return printJSON(state.Result.Summary())
	}
	return printJSON(state)
}

func readSnapshot(path string) (flow.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return flow.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap flow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return flow.Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}
