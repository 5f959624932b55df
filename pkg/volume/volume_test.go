package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/ontology"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name                     string
		distance, sensor, height float64
		want                     float64
	}{
		{"half full", 1.5, 3.0, 3.0, 1.5},
		{"sensor above the rim", 1.0, 3.5, 3.0, 2.5},
		{"overflow clamps to height", 0.1, 3.5, 3.0, 3.0},
		{"distance past the floor", 4.0, 3.0, 3.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Level(tt.distance, tt.sensor, tt.height), 1e-9)
		})
	}
}

func TestConvert_Cylinder(t *testing.T) {
	tank := ontology.Tank{Shape: "cylinder", Diameter: 2, Height: 3, SensorHeight: 3, Capacity: 10000}

	m, err := Convert(tank, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.WaterLevel, 1e-9)
	assert.InDelta(t, math.Pi*1000, m.Volume, 1e-6)
	assert.InDelta(t, math.Pi*10, m.FillPercent, 1e-6)
}

func TestConvert_Rectangular(t *testing.T) {
	tank := ontology.Tank{Shape: "rectangular", Diameter: 2, Height: 2, SensorHeight: 2, Capacity: 8000}

	m, err := Convert(tank, 1)
	require.NoError(t, err)
	assert.InDelta(t, 4000, m.Volume, 1e-6)
	assert.InDelta(t, 50, m.FillPercent, 1e-6)
}

func TestConvert_ClampsToCapacity(t *testing.T) {
	tank := ontology.Tank{Shape: "rectangular", Diameter: 2, Height: 2, SensorHeight: 2, Capacity: 1000}

	m, err := Convert(tank, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1000, m.Volume, 1e-9)
	assert.InDelta(t, 100, m.FillPercent, 1e-9)
}

func TestConvert_NoCapacity(t *testing.T) {
	m, err := Convert(ontology.Tank{Diameter: 1, Height: 1, SensorHeight: 1}, 0.5)
	require.NoError(t, err)
	assert.Zero(t, m.FillPercent)
	assert.Greater(t, m.Volume, 0.0)
}

func TestConvert_UnknownShape(t *testing.T) {
	_, err := Convert(ontology.Tank{Shape: "sphere"}, 1)
	assert.ErrorIs(t, err, ErrUnknownShape)
}
