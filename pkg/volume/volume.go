// Package volume converts ultrasonic distance readings into water level and
// stored volume for a tank.
package volume

import (
	"errors"
	"fmt"
	"math"

	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

var ErrUnknownShape = errors.New("unknown tank shape")

const litersPerCubicMeter = 1000.0

type Measurement struct {
	WaterLevel  float64 `json:"water_level"`  // meters
	Volume      float64 `json:"volume"`       // liters
	FillPercent float64 `json:"fill_percent"` // 0-100
}

// Level returns the water height above the tank floor for a sensor mounted
// sensorHeight meters up, clamped to [0, height].
func Level(distance, sensorHeight, height float64) float64 {
	level := sensorHeight - distance
	if level < 0 || math.IsNaN(level) {
		return 0
	}
	if height > 0 && level > height {
		return height
	}
	return level
}

// Convert turns a distance reading into a measurement for tank t. An empty
// shape is treated as a cylinder.
func Convert(t ontology.Tank, distance float64) (Measurement, error) {
	level := Level(distance, t.SensorHeight, t.Height)

	var vol float64
	switch t.Shape {
	case shared.ShapeCylinder, "":
		r := t.Diameter / 2
		vol = math.Pi * r * r * level * litersPerCubicMeter
	case shared.ShapeRectangular:
		vol = t.Diameter * t.Diameter * level * litersPerCubicMeter
	default:
		return Measurement{}, fmt.Errorf("%w: %q", ErrUnknownShape, t.Shape)
	}

	m := Measurement{WaterLevel: level, Volume: vol}
	if t.Capacity > 0 {
		if m.Volume > t.Capacity {
			m.Volume = t.Capacity
		}
		m.FillPercent = m.Volume / t.Capacity * 100
	}
	return m, nil
}
