package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"waterwatch/pkg/events"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

type TankService struct {
	db     *sql.DB
	events eventPublisher
}

func NewTankService(db *sql.DB, pub Publisher, m *metrics.Metrics) *TankService {
	return &TankService{
		db:     db,
		events: newEventPublisher(pub, "tank-service", m),
	}
}

const tankColumns = `tank_id, name, lat, lng, is_active, capacity, diameter, height, sensor_height,
	shape, device_id, water_level, volume, fill_percent, last_reading_at, created_at, updated_at`

func (s *TankService) CreateTank(ctx context.Context, req *ontology.CreateTankRequest) (*ontology.Tank, error) {
	if err := validateTank(req.Name, req.Location.Valid(), req.Shape, req.Capacity, req.Diameter, req.Height, req.SensorHeight); err != nil {
		return nil, err
	}

	tankID := req.TankID
	if tankID == "" {
		tankID = uuid.New().String()
	}
	shape := req.Shape
	if shape == "" {
		shape = shared.ShapeCylinder
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tanks (tank_id, name, lat, lng, is_active, capacity, diameter, height, sensor_height,
		                    shape, device_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tankID, req.Name, req.Location.Lat, req.Location.Lng, boolToInt(req.IsActive),
		req.Capacity, req.Diameter, req.Height, req.SensorHeight, shape, nullString(req.DeviceID),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, invalid("tank %q or device %q already exists", tankID, req.DeviceID)
		}
		return nil, fmt.Errorf("failed to create tank: %w", err)
	}

	tank, err := s.GetTank(ctx, tankID)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.TankUpdated{Tank: *tank})
	return tank, nil
}

func (s *TankService) ListTanks(ctx context.Context) ([]ontology.Tank, error) {
	return s.queryTanks(ctx, `SELECT `+tankColumns+` FROM tanks ORDER BY created_at, tank_id`)
}

// ListActiveTanks returns the tanks currently acting as flow sources.
func (s *TankService) ListActiveTanks(ctx context.Context) ([]ontology.Tank, error) {
	return s.queryTanks(ctx, `SELECT `+tankColumns+` FROM tanks WHERE is_active = 1 ORDER BY created_at, tank_id`)
}

func (s *TankService) queryTanks(ctx context.Context, query string, args ...any) ([]ontology.Tank, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tanks: %w", err)
	}
	defer rows.Close()

	tanks := []ontology.Tank{}
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, *tank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tanks: %w", err)
	}
	return tanks, nil
}

func (s *TankService) GetTank(ctx context.Context, tankID string) (*ontology.Tank, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tankColumns+` FROM tanks WHERE tank_id = ?`, tankID)
	tank, err := scanTank(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tank %s: %w", tankID, ErrNotFound)
	}
	return tank, err
}

func (s *TankService) GetTankByDevice(ctx context.Context, deviceID string) (*ontology.Tank, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tankColumns+` FROM tanks WHERE device_id = ?`, deviceID)
	tank, err := scanTank(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tank for device %s: %w", deviceID, ErrNotFound)
	}
	return tank, err
}

func (s *TankService) UpdateTank(ctx context.Context, tankID string, req *ontology.UpdateTankRequest) (*ontology.Tank, error) {
	current, err := s.GetTank(ctx, tankID)
	if err != nil {
		return nil, err
	}

	query := "UPDATE tanks SET updated_at = ?"
	args := []any{formatTime(time.Now())}
	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = ?", column)
		args = append(args, value)
	}

	next := *current
	if req.Name != nil {
		next.Name = *req.Name
		set("name", next.Name)
	}
	if req.Location != nil {
		next.Location = *req.Location
		set("lat", next.Location.Lat)
		set("lng", next.Location.Lng)
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
		set("is_active", boolToInt(next.IsActive))
	}
	if req.Capacity != nil {
		next.Capacity = *req.Capacity
		set("capacity", next.Capacity)
	}
	if req.Diameter != nil {
		next.Diameter = *req.Diameter
		set("diameter", next.Diameter)
	}
	if req.Height != nil {
		next.Height = *req.Height
		set("height", next.Height)
	}
	if req.SensorHeight != nil {
		next.SensorHeight = *req.SensorHeight
		set("sensor_height", next.SensorHeight)
	}
	if req.Shape != nil {
		next.Shape = *req.Shape
		set("shape", next.Shape)
	}
	if req.DeviceID != nil {
		next.DeviceID = *req.DeviceID
		set("device_id", nullString(next.DeviceID))
	}
	if len(args) == 1 {
		return nil, ErrNoUpdates
	}
	if err := validateTank(next.Name, next.Location.Valid(), next.Shape, next.Capacity, next.Diameter, next.Height, next.SensorHeight); err != nil {
		return nil, err
	}

	query += " WHERE tank_id = ?"
	args = append(args, tankID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update tank: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("tank %s: %w", tankID, ErrNotFound)
	}

	tank, err := s.GetTank(ctx, tankID)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.TankUpdated{Tank: *tank})
	return tank, nil
}

// SetActive toggles whether the tank feeds the pipeline network.
func (s *TankService) SetActive(ctx context.Context, tankID string, active bool) (*ontology.Tank, error) {
	return s.UpdateTank(ctx, tankID, &ontology.UpdateTankRequest{IsActive: &active})
}

func (s *TankService) DeleteTank(ctx context.Context, tankID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tanks WHERE tank_id = ?", tankID)
	if err != nil {
		return fmt.Errorf("failed to delete tank: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tank %s: %w", tankID, ErrNotFound)
	}

	s.events.publish(events.TankDeleted{TankID: tankID})
	return nil
}

// applyReading stores the latest measurement on the tank row.
func applyReading(ctx context.Context, tx *sql.Tx, r *ontology.SensorReading) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tanks SET water_level = ?, volume = ?, fill_percent = ?, last_reading_at = ?, updated_at = ?
		 WHERE tank_id = ?`,
		r.WaterLevel, r.Volume, r.FillPercent, formatTime(r.RecordedAt), formatTime(time.Now()), r.TankID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tank level: %w", err)
	}
	return nil
}

func validateTank(name string, validLocation bool, shape string, dims ...float64) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name is required")
	}
	if !validLocation {
		return invalid("location must have finite coordinates")
	}
	switch shape {
	case "", shared.ShapeCylinder, shared.ShapeRectangular:
	default:
		return invalid("shape must be %s or %s", shared.ShapeCylinder, shared.ShapeRectangular)
	}
	for _, d := range dims {
		if d < 0 {
			return invalid("dimensions must not be negative")
		}
	}
	return nil
}

func scanTank(row scanner) (*ontology.Tank, error) {
	var tank ontology.Tank
	var isActive int
	var deviceID, lastReadingAt sql.NullString
	var level, vol, pct sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&tank.TankID, &tank.Name, &tank.Location.Lat, &tank.Location.Lng, &isActive,
		&tank.Capacity, &tank.Diameter, &tank.Height, &tank.SensorHeight, &tank.Shape,
		&deviceID, &level, &vol, &pct, &lastReadingAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan tank: %w", err)
	}

	tank.IsActive = isActive == 1
	tank.DeviceID = deviceID.String
	if level.Valid {
		tank.WaterLevel = &level.Float64
	}
	if vol.Valid {
		tank.Volume = &vol.Float64
	}
	if pct.Valid {
		tank.FillPercent = &pct.Float64
	}
	if lastReadingAt.Valid {
		t := parseTime(lastReadingAt.String)
		tank.LastReadingAt = &t
	}
	tank.CreatedAt = parseTime(createdAt)
	tank.UpdatedAt = parseTime(updatedAt)

	return &tank, nil
}
