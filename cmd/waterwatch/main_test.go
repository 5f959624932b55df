package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/config"
	"waterwatch/pkg/flow"
	"waterwatch/pkg/services/flowstore"
)

const snapshotJSON = `{
  "pipelines": [
    {"id": 1, "nodes": [{"lat": 0, "lng": 0}, {"lat": 0, "lng": 0.001}, {"lat": 0, "lng": 0.002}]}
  ],
  "tanks": [
    {"tank_id": "T1", "name": "North", "location": {"lat": 0, "lng": 0}, "is_active": true, "shape": "cylinder"}
  ],
  "valves": []
}`

func TestReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshotJSON), 0o644))

	snap, err := readSnapshot(path)
	require.NoError(t, err)
	require.Len(t, snap.Pipelines, 1)
	require.Len(t, snap.Tanks, 1)

	res := flow.Compute(snap, flow.DefaultConfig())
	assert.Equal(t, 2, res.Summary().FlowingCount)
	assert.Equal(t, 2, res.TotalSegmentCount)
}

func TestReadSnapshotErrors(t *testing.T) {
	_, err := readSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = readSnapshot(path)
	assert.Error(t, err)
}

func TestInitFlowStoreDefaultsToMemory(t *testing.T) {
	store, err := initFlowStore(config.RedisConfig{})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*flowstore.MemoryStore)
	assert.True(t, ok)
}
