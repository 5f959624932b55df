package ontology

import (
	"time"

	"waterwatch/pkg/geo"
)

type Tank struct {
	TankID        string       `json:"tank_id" db:"tank_id"`
	Name          string       `json:"name" db:"name"`
	Location      geo.GeoPoint `json:"location"`
	IsActive      bool         `json:"is_active" db:"is_active"`
	Capacity      float64      `json:"capacity" db:"capacity"`           // liters
	Diameter      float64      `json:"diameter" db:"diameter"`           // meters
	Height        float64      `json:"height" db:"height"`               // meters
	SensorHeight  float64      `json:"sensor_height" db:"sensor_height"` // meters above the tank floor
	Shape         string       `json:"shape" db:"shape"`
	DeviceID      string       `json:"device_id,omitempty" db:"device_id"`
	WaterLevel    *float64     `json:"water_level,omitempty" db:"water_level"`
	Volume        *float64     `json:"volume,omitempty" db:"volume"`
	FillPercent   *float64     `json:"fill_percent,omitempty" db:"fill_percent"`
	LastReadingAt *time.Time   `json:"last_reading_at,omitempty" db:"last_reading_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

type CreateTankRequest struct {
	TankID       string       `json:"tank_id,omitempty"`
	Name         string       `json:"name" validate:"required"`
	Location     geo.GeoPoint `json:"location" validate:"required"`
	IsActive     bool         `json:"is_active"`
	Capacity     float64      `json:"capacity" validate:"min=0"`
	Diameter     float64      `json:"diameter" validate:"min=0"`
	Height       float64      `json:"height" validate:"min=0"`
	SensorHeight float64      `json:"sensor_height" validate:"min=0"`
	Shape        string       `json:"shape,omitempty" validate:"omitempty,oneof=cylinder rectangular"`
	DeviceID     string       `json:"device_id,omitempty"`
}

// UpdateTankRequest carries a partial update; nil fields are left alone.
type UpdateTankRequest struct {
	Name         *string       `json:"name,omitempty"`
	Location     *geo.GeoPoint `json:"location,omitempty"`
	IsActive     *bool         `json:"is_active,omitempty"`
	Capacity     *float64      `json:"capacity,omitempty"`
	Diameter     *float64      `json:"diameter,omitempty"`
	Height       *float64      `json:"height,omitempty"`
	SensorHeight *float64      `json:"sensor_height,omitempty"`
	Shape        *string       `json:"shape,omitempty"`
	DeviceID     *string       `json:"device_id,omitempty"`
}

// SensorReading is one water-level sample after unit conversion.
type SensorReading struct {
	ID          int64     `json:"id" db:"id"`
	TankID      string    `json:"tank_id" db:"tank_id"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	Distance    float64   `json:"distance" db:"distance"`
	WaterLevel  float64   `json:"water_level" db:"water_level"`
	Volume      float64   `json:"volume" db:"volume"`
	FillPercent float64   `json:"fill_percent" db:"fill_percent"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
}

// TelemetrySample is the raw payload a device sends: the distance from the
// sensor to the water surface in meters.
type TelemetrySample struct {
	DeviceID  string    `json:"device_id" validate:"required"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
