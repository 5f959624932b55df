package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"waterwatch/pkg/events"
	"waterwatch/pkg/geo"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
)

type PipelineService struct {
	db     *sql.DB
	events eventPublisher
}

func NewPipelineService(db *sql.DB, pub Publisher, m *metrics.Metrics) *PipelineService {
	return &PipelineService{
		db:     db,
		events: newEventPublisher(pub, "pipeline-service", m),
	}
}

const pipelineColumns = `id, name, nodes, created_at, updated_at`

func validateNodes(nodes []geo.GeoPoint) error {
	if len(nodes) < 2 {
		return invalid("a pipeline needs at least 2 nodes, got %d", len(nodes))
	}
	for i, n := range nodes {
		if !n.Valid() {
			return invalid("node %d has non-finite coordinates", i)
		}
	}
	return nil
}

func (s *PipelineService) CreatePipeline(ctx context.Context, req *ontology.CreatePipelineRequest) (*ontology.Pipeline, error) {
	if err := validateNodes(req.Nodes); err != nil {
		return nil, err
	}

	nodes, err := json.Marshal(req.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	now := formatTime(time.Now())

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pipelines (name, nodes, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		req.Name, string(nodes), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline id: %w", err)
	}

	pipeline, err := s.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.PipelineUpdated{Pipeline: *pipeline})
	return pipeline, nil
}

func (s *PipelineService) ListPipelines(ctx context.Context) ([]ontology.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []ontology.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pipelines: %w", err)
	}
	return pipelines, nil
}

func (s *PipelineService) GetPipeline(ctx context.Context, id int64) (*ontology.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %d: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *PipelineService) UpdatePipeline(ctx context.Context, id int64, req *ontology.UpdatePipelineRequest) (*ontology.Pipeline, error) {
	query := "UPDATE pipelines SET updated_at = ?"
	args := []any{formatTime(time.Now())}

	if req.Name != nil {
		query += ", name = ?"
		args = append(args, *req.Name)
	}
	if req.Nodes != nil {
		if err := validateNodes(req.Nodes); err != nil {
			return nil, err
		}
		nodes, err := json.Marshal(req.Nodes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal nodes: %w", err)
		}
		query += ", nodes = ?"
		args = append(args, string(nodes))
	}
	if len(args) == 1 {
		return nil, ErrNoUpdates
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update pipeline: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("pipeline %d: %w", id, ErrNotFound)
	}

	pipeline, err := s.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	s.events.publish(events.PipelineUpdated{Pipeline: *pipeline})
	return pipeline, nil
}

func (s *PipelineService) DeletePipeline(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM pipelines WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %d: %w", id, ErrNotFound)
	}

	s.events.publish(events.PipelineDeleted{PipelineID: id})
	return nil
}

// scanPipeline tolerates node JSON that no longer decodes: the pipeline is
// returned without nodes and the flow engine treats it as inert.
func scanPipeline(row scanner) (*ontology.Pipeline, error) {
	var p ontology.Pipeline
	var nodes, createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &nodes, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}

	if err := json.Unmarshal([]byte(nodes), &p.Nodes); err != nil {
		p.Nodes = nil
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
