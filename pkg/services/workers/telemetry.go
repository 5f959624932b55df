package workers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	"waterwatch/api/services"
	"waterwatch/pkg/events"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

// Recorder converts and stores a raw sample.
type Recorder interface {
	Record(ctx context.Context, sample ontology.TelemetrySample) (*ontology.SensorReading, error)
}

// ReadingMirror copies stored readings to a secondary store.
type ReadingMirror interface {
	WriteReading(ctx context.Context, r ontology.SensorReading) error
}

// Broadcaster pushes encoded frames to realtime sessions.
type Broadcaster interface {
	Broadcast(data []byte)
}

type TelemetryWorker struct {
	*BaseWorker
	recorder Recorder
	hub      Broadcaster
	mirror   ReadingMirror
}

// NewTelemetryWorker processes raw samples from the telemetry stream. hub
// and mirror may be nil.
func NewTelemetryWorker(js nats.JetStreamContext, recorder Recorder, hub Broadcaster, mirror ReadingMirror) *TelemetryWorker {
	return &TelemetryWorker{
		BaseWorker: NewBaseWorker(
			"telemetry-worker",
			js,
			shared.StreamTelemetry,
			shared.ConsumerTelemetryProcessor,
			shared.SubjectTelemetryAll,
		),
		recorder: recorder,
		hub:      hub,
		mirror:   mirror,
	}
}

func (w *TelemetryWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *TelemetryWorker) handle(ctx context.Context, subject string, data []byte) error {
	var sample ontology.TelemetrySample
	if err := json.Unmarshal(data, &sample); err != nil {
		return permanent(err)
	}

	reading, err := w.recorder.Record(ctx, sample)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) || errors.Is(err, services.ErrNotFound) {
			return permanent(err)
		}
		return err
	}
	w.log.Debug("recorded reading", "tank_id", reading.TankID, "device_id", reading.DeviceID, "fill_percent", reading.FillPercent)

	if w.mirror != nil {
		if err := w.mirror.WriteReading(ctx, *reading); err != nil {
			w.log.Warn("failed to mirror reading", "tank_id", reading.TankID, "error", err)
		}
	}
	if w.hub != nil {
		frame, _, err := events.Encode(events.TelemetryReceived{Reading: *reading}, w.Name())
		if err != nil {
			w.log.Error("failed to encode reading", "error", err)
			return nil
		}
		w.hub.Broadcast(frame)
	}
	return nil
}
