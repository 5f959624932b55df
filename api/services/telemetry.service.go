package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"waterwatch/db"
	"waterwatch/pkg/events"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
	"waterwatch/pkg/volume"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

type TelemetryService struct {
	db      *db.Service
	tanks   *TankService
	pub     Publisher
	metrics *metrics.Metrics
	events  eventPublisher
}

func NewTelemetryService(dbService *db.Service, tanks *TankService, pub Publisher, m *metrics.Metrics) *TelemetryService {
	return &TelemetryService{
		db:      dbService,
		tanks:   tanks,
		pub:     pub,
		metrics: m,
		events:  newEventPublisher(pub, "telemetry-service", m),
	}
}

// SampleID is the dedup key for a raw sample: one reading per device per
// timestamp.
func SampleID(sample ontology.TelemetrySample) string {
	return fmt.Sprintf("%s-%d", sample.DeviceID, sample.Timestamp.UnixMilli())
}

func validateSample(sample *ontology.TelemetrySample) error {
	if strings.TrimSpace(sample.DeviceID) == "" {
		return invalid("device_id is required")
	}
	if strings.ContainsAny(sample.DeviceID, ".*> ") {
		return invalid("device_id %q contains subject wildcard characters", sample.DeviceID)
	}
	if sample.Distance < 0 {
		return invalid("distance must not be negative")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	return nil
}

// Submit hands a raw sample to the telemetry stream. Without a publisher
// the sample is recorded directly.
func (s *TelemetryService) Submit(ctx context.Context, sample ontology.TelemetrySample) error {
	if err := validateSample(&sample); err != nil {
		return err
	}
	if s.pub == nil {
		_, err := s.Record(ctx, sample)
		return err
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	if err := s.pub.PublishWithDedup(shared.TelemetryDeviceSubject(sample.DeviceID), data, SampleID(sample)); err != nil {
		return fmt.Errorf("failed to submit sample: %w", err)
	}
	return nil
}

// Record converts a sample for the tank bound to its device, stores the
// reading and updates the tank's latest level in one transaction.
func (s *TelemetryService) Record(ctx context.Context, sample ontology.TelemetrySample) (*ontology.SensorReading, error) {
	if err := validateSample(&sample); err != nil {
		s.metrics.RecordTelemetry("invalid")
		return nil, err
	}

	tank, err := s.tanks.GetTankByDevice(ctx, sample.DeviceID)
	if err != nil {
		s.metrics.RecordTelemetry("unknown_device")
		return nil, err
	}

	m, err := volume.Convert(*tank, sample.Distance)
	if err != nil {
		s.metrics.RecordTelemetry("invalid")
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	reading := &ontology.SensorReading{
		TankID:      tank.TankID,
		DeviceID:    sample.DeviceID,
		Distance:    sample.Distance,
		WaterLevel:  m.WaterLevel,
		Volume:      m.Volume,
		FillPercent: m.FillPercent,
		RecordedAt:  sample.Timestamp.UTC(),
	}

	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO sensor_readings (tank_id, device_id, distance, water_level, volume, fill_percent, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			reading.TankID, reading.DeviceID, reading.Distance, reading.WaterLevel,
			reading.Volume, reading.FillPercent, formatTime(reading.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
		if reading.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read reading id: %w", err)
		}
		return applyReading(ctx, tx, reading)
	})
	if err != nil {
		s.metrics.RecordTelemetry("error")
		return nil, err
	}

	s.metrics.RecordTelemetry("ok")
	s.events.publish(events.TelemetryReceived{Reading: *reading})
	return reading, nil
}

// History lists the most recent readings of a tank, newest first.
func (s *TelemetryService) History(ctx context.Context, tankID string, limit int) ([]ontology.SensorReading, error) {
	if _, err := s.tanks.GetTank(ctx, tankID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, tank_id, device_id, distance, water_level, volume, fill_percent, recorded_at
		 FROM sensor_readings WHERE tank_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		tankID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := []ontology.SensorReading{}
	for rows.Next() {
		var r ontology.SensorReading
		var recordedAt string
		if err := rows.Scan(&r.ID, &r.TankID, &r.DeviceID, &r.Distance, &r.WaterLevel, &r.Volume, &r.FillPercent, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.RecordedAt = parseTime(recordedAt)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}
