// Package events defines the system events exchanged between the API, the
// workers and realtime sessions, and their JSON envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"waterwatch/pkg/flow"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

var ErrUnknownType = errors.New("unknown event type")

// Event types
const (
	TypeTankUpdated       = "tank_updated"
	TypeTankDeleted       = "tank_deleted"
	TypeValveUpdated      = "valve_updated"
	TypeValveDeleted      = "valve_deleted"
	TypePipelineUpdated   = "pipeline_updated"
	TypePipelineDeleted   = "pipeline_deleted"
	TypeTelemetryReceived = "telemetry_received"
	TypeFlowComputed      = "flow_computed"
)

// Event is one of the concrete event types in this package. The unexported
// method keeps the set closed.
type Event interface {
	Type() string
	Subject() string
	isEvent()
}

type TankUpdated struct {
	Tank ontology.Tank `json:"tank"`
}

type TankDeleted struct {
	TankID string `json:"tank_id"`
}

type ValveUpdated struct {
	Valve ontology.Valve `json:"valve"`
}

type ValveDeleted struct {
	ValveID string `json:"valve_id"`
}

type PipelineUpdated struct {
	Pipeline ontology.Pipeline `json:"pipeline"`
}

type PipelineDeleted struct {
	PipelineID int64 `json:"pipeline_id"`
}

type TelemetryReceived struct {
	Reading ontology.SensorReading `json:"reading"`
}

type FlowComputed struct {
	Summary    flow.Summary `json:"summary"`
	Reason     string       `json:"reason"`
	Sequence   uint64       `json:"sequence"`
	ComputedAt time.Time    `json:"computed_at"`
}

func (TankUpdated) Type() string       { return TypeTankUpdated }
func (TankDeleted) Type() string       { return TypeTankDeleted }
func (ValveUpdated) Type() string      { return TypeValveUpdated }
func (ValveDeleted) Type() string      { return TypeValveDeleted }
func (PipelineUpdated) Type() string   { return TypePipelineUpdated }
func (PipelineDeleted) Type() string   { return TypePipelineDeleted }
func (TelemetryReceived) Type() string { return TypeTelemetryReceived }
func (FlowComputed) Type() string      { return TypeFlowComputed }

func (TankUpdated) Subject() string {
	return shared.AssetSubject(shared.KindTank, shared.ActionUpdated)
}
func (TankDeleted) Subject() string {
	return shared.AssetSubject(shared.KindTank, shared.ActionDeleted)
}
func (ValveUpdated) Subject() string {
	return shared.AssetSubject(shared.KindValve, shared.ActionUpdated)
}
func (ValveDeleted) Subject() string {
	return shared.AssetSubject(shared.KindValve, shared.ActionDeleted)
}
func (PipelineUpdated) Subject() string {
	return shared.AssetSubject(shared.KindPipeline, shared.ActionUpdated)
}
func (PipelineDeleted) Subject() string {
	return shared.AssetSubject(shared.KindPipeline, shared.ActionDeleted)
}
func (e TelemetryReceived) Subject() string { return shared.ReadingSubject(e.Reading.TankID) }
func (FlowComputed) Subject() string        { return shared.SubjectFlowComputed }

func (TankUpdated) isEvent()       {}
func (TankDeleted) isEvent()       {}
func (ValveUpdated) isEvent()      {}
func (ValveDeleted) isEvent()      {}
func (PipelineUpdated) isEvent()   {}
func (PipelineDeleted) isEvent()   {}
func (TelemetryReceived) isEvent() {}
func (FlowComputed) isEvent()      {}

// TriggersRecompute reports whether e can change flow reachability.
func TriggersRecompute(e Event) bool {
	switch e.(type) {
	case TankUpdated, TankDeleted, ValveUpdated, ValveDeleted, PipelineUpdated, PipelineDeleted:
		return true
	case TelemetryReceived, FlowComputed:
		return false
	default:
		return false
	}
}

// Envelope is the wire form of an event on NATS subjects and websocket
// frames.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// Wrap builds an envelope for e with a fresh id.
func Wrap(e Event, source string) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s event: %w", e.Type(), err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      e.Type(),
		Subject:   e.Subject(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}, nil
}

// Encode wraps e and marshals the envelope. The envelope id is returned so
// publishers can use it as a dedup key.
func Encode(e Event, source string) ([]byte, string, error) {
	env, err := Wrap(e, source)
	if err != nil {
		return nil, "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, env.ID, nil
}

// Decode parses an envelope and its payload.
func Decode(b []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	e, err := env.Event()
	if err != nil {
		return env, nil, err
	}
	return env, e, nil
}

// Event decodes the payload according to the envelope type.
func (env Envelope) Event() (Event, error) {
	switch env.Type {
	case TypeTankUpdated:
		return decodeAs[TankUpdated](env)
	case TypeTankDeleted:
		return decodeAs[TankDeleted](env)
	case TypeValveUpdated:
		return decodeAs[ValveUpdated](env)
	case TypeValveDeleted:
		return decodeAs[ValveDeleted](env)
	case TypePipelineUpdated:
		return decodeAs[PipelineUpdated](env)
	case TypePipelineDeleted:
		return decodeAs[PipelineDeleted](env)
	case TypeTelemetryReceived:
		return decodeAs[TelemetryReceived](env)
	case TypeFlowComputed:
		return decodeAs[FlowComputed](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var e T
	if err := json.Unmarshal(env.Data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}
	return e, nil
}
