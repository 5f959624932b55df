package ingest

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"waterwatch/pkg/ontology"
)

const DefaultMeasurement = "tank_level"

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxMirror copies converted readings into an InfluxDB bucket.
type InfluxMirror struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

func NewInfluxMirror(cfg InfluxConfig) (*InfluxMirror, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

func (m *InfluxMirror) WriteReading(ctx context.Context, r ontology.SensorReading) error {
	if err := m.writeAPI.WritePoint(ctx, readingPoint(m.measurement, r)); err != nil {
		return fmt.Errorf("failed to write reading to influx: %w", err)
	}
	return nil
}

func (m *InfluxMirror) Close() {
	m.client.Close()
}

func readingPoint(measurement string, r ontology.SensorReading) *write.Point {
	tags := map[string]string{
		"tank_id":   r.TankID,
		"device_id": r.DeviceID,
	}
	fields := map[string]any{
		"distance":     r.Distance,
		"water_level":  r.WaterLevel,
		"volume":       r.Volume,
		"fill_percent": r.FillPercent,
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.RecordedAt)
}
