package flowstate

import (
	"context"
	"fmt"

	"waterwatch/pkg/events"
)

// Publisher is the JetStream publish primitive NATSSink needs.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

// NATSSink announces every state as a FlowComputed event on the flow
// stream.
type NATSSink struct {
	pub    Publisher
	source string
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub, source: "flowstate"}
}

func (s *NATSSink) PublishFlow(ctx context.Context, state State) error {
	e := state.Event()
	data, msgID, err := events.Encode(e, s.source)
	if err != nil {
		return err
	}
	if err := s.pub.PublishWithDedup(e.Subject(), data, msgID); err != nil {
		return fmt.Errorf("failed to publish flow state: %w", err)
	}
	return nil
}
