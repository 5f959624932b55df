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
	"waterwatch/pkg/flow"
	"waterwatch/pkg/geo"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
)

type ValveService struct {
	db        *sql.DB
	pipelines *PipelineService
	events    eventPublisher
}

func NewValveService(db *sql.DB, pipelines *PipelineService, pub Publisher, m *metrics.Metrics) *ValveService {
	return &ValveService{
		db:        db,
		pipelines: pipelines,
		events:    newEventPublisher(pub, "valve-service", m),
	}
}

const valveColumns = `valve_id, name, lat, lng, is_open, parent_valve_id, created_at, updated_at`

// SnapResult is the closest point on the pipeline network to a requested
// valve location.
type SnapResult struct {
	Point        geo.GeoPoint `json:"point"`
	PipelineID   int64        `json:"pipeline_id"`
	SegmentIndex int          `json:"segment_index"`
	Distance     float64      `json:"distance"` // meters from the requested point
}

func (s *ValveService) CreateValve(ctx context.Context, req *ontology.CreateValveRequest) (*ontology.Valve, error) {
	if !req.Location.Valid() {
		return nil, invalid("location must have finite coordinates")
	}

	valveID := req.ValveID
	if valveID == "" {
		valveID = uuid.New().String()
	}
	isOpen := true
	if req.IsOpen != nil {
		isOpen = *req.IsOpen
	}
	now := formatTime(time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO valves (valve_id, name, lat, lng, is_open, parent_valve_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		valveID, req.Name, req.Location.Lat, req.Location.Lng, boolToInt(isOpen),
		nullString(req.ParentValveID), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, invalid("valve %q already exists", valveID)
		}
		return nil, fmt.Errorf("failed to create valve: %w", err)
	}

	valve, err := s.GetValve(ctx, valveID)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.ValveUpdated{Valve: *valve})
	return valve, nil
}

func (s *ValveService) ListValves(ctx context.Context) ([]ontology.Valve, error) {
	return s.queryValves(ctx, `SELECT `+valveColumns+` FROM valves ORDER BY created_at, valve_id`)
}

// ListClosedValves returns the valves that can block flow, in the same
// order ListValves uses.
func (s *ValveService) ListClosedValves(ctx context.Context) ([]ontology.Valve, error) {
	return s.queryValves(ctx, `SELECT `+valveColumns+` FROM valves WHERE is_open = 0 ORDER BY created_at, valve_id`)
}

func (s *ValveService) queryValves(ctx context.Context, query string, args ...any) ([]ontology.Valve, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query valves: %w", err)
	}
	defer rows.Close()

	valves := []ontology.Valve{}
	for rows.Next() {
		valve, err := scanValve(rows)
		if err != nil {
			return nil, err
		}
		valves = append(valves, *valve)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate valves: %w", err)
	}
	return valves, nil
}

func (s *ValveService) GetValve(ctx context.Context, valveID string) (*ontology.Valve, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+valveColumns+` FROM valves WHERE valve_id = ?`, valveID)
	valve, err := scanValve(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("valve %s: %w", valveID, ErrNotFound)
	}
	return valve, err
}

func (s *ValveService) UpdateValve(ctx context.Context, valveID string, req *ontology.UpdateValveRequest) (*ontology.Valve, error) {
	query := "UPDATE valves SET updated_at = ?"
	args := []any{formatTime(time.Now())}
	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = ?", column)
		args = append(args, value)
	}

	if req.Name != nil {
		set("name", *req.Name)
	}
	if req.Location != nil {
		if !req.Location.Valid() {
			return nil, invalid("location must have finite coordinates")
		}
		set("lat", req.Location.Lat)
		set("lng", req.Location.Lng)
	}
	if req.IsOpen != nil {
		set("is_open", boolToInt(*req.IsOpen))
	}
	if req.ParentValveID != nil {
		if *req.ParentValveID == valveID {
			return nil, invalid("a valve cannot be its own parent")
		}
		set("parent_valve_id", nullString(*req.ParentValveID))
	}
	if len(args) == 1 {
		return nil, ErrNoUpdates
	}

	query += " WHERE valve_id = ?"
	args = append(args, valveID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update valve: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("valve %s: %w", valveID, ErrNotFound)
	}

	valve, err := s.GetValve(ctx, valveID)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.ValveUpdated{Valve: *valve})
	return valve, nil
}

// SetOpen opens or closes a valve.
func (s *ValveService) SetOpen(ctx context.Context, valveID string, open bool) (*ontology.Valve, error) {
	return s.UpdateValve(ctx, valveID, &ontology.UpdateValveRequest{IsOpen: &open})
}

func (s *ValveService) DeleteValve(ctx context.Context, valveID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM valves WHERE valve_id = ?", valveID)
	if err != nil {
		return fmt.Errorf("failed to delete valve: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("valve %s: %w", valveID, ErrNotFound)
	}

	s.events.publish(events.ValveDeleted{ValveID: valveID})
	return nil
}

// Snap finds the closest point to p on any pipeline segment. Ties keep the
// first pipeline and segment in storage order.
func (s *ValveService) Snap(ctx context.Context, p geo.GeoPoint) (*SnapResult, error) {
	if !p.Valid() {
		return nil, invalid("point must have finite coordinates")
	}

	pipelines, err := s.pipelines.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	var best *SnapResult
	for _, pl := range pipelines {
		for _, seg := range flow.Segments(pl) {
			closest := geo.ClosestPointOnSegment(p, seg.Start, seg.End)
			d := geo.Distance(p, closest)
			if best == nil || d < best.Distance {
				best = &SnapResult{Point: closest, PipelineID: pl.ID, SegmentIndex: seg.Index, Distance: d}
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no pipeline to snap to: %w", ErrNotFound)
	}
	return best, nil
}

func scanValve(row scanner) (*ontology.Valve, error) {
	var valve ontology.Valve
	var isOpen int
	var parent sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&valve.ValveID, &valve.Name, &valve.Location.Lat, &valve.Location.Lng, &isOpen,
		&parent, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan valve: %w", err)
	}

	valve.IsOpen = isOpen == 1
	valve.ParentValveID = parent.String
	valve.CreatedAt = parseTime(createdAt)
	valve.UpdatedAt = parseTime(updatedAt)
	return &valve, nil
}
