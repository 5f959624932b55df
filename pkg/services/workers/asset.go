package workers

import (
	"context"

	"github.com/nats-io/nats.go"

	"waterwatch/pkg/events"
	"waterwatch/pkg/shared"
)

// EventHandler reacts to decoded asset events.
type EventHandler interface {
	HandleEvent(e events.Event) bool
}

// AssetWorker forwards asset events to realtime sessions and lets the flow
// recomputer decide whether they change reachability.
type AssetWorker struct {
	*BaseWorker
	hub     Broadcaster
	handler EventHandler
}

func NewAssetWorker(js nats.JetStreamContext, hub Broadcaster, handler EventHandler) *AssetWorker {
	return &AssetWorker{
		BaseWorker: NewBaseWorker(
			"asset-worker",
			js,
			shared.StreamAssets,
			shared.ConsumerAssetProcessor,
			shared.SubjectAssetsAll,
		),
		hub:     hub,
		handler: handler,
	}
}

func (w *AssetWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *AssetWorker) handle(ctx context.Context, subject string, data []byte) error {
	env, e, err := events.Decode(data)
	if err != nil {
		return permanent(err)
	}

	if w.hub != nil {
		w.hub.Broadcast(data)
	}
	if w.handler != nil && w.handler.HandleEvent(e) {
		w.log.Debug("flow recompute scheduled", "type", env.Type, "source", env.Source)
	}
	return nil
}
