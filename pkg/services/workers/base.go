package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"waterwatch/pkg/logger"
)

// ErrPermanent marks a message that can never be processed. It is
// terminated instead of redelivered.
var ErrPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// MessageHandler processes one message. A nil return acks it.
type MessageHandler func(ctx context.Context, subject string, data []byte) error

type BaseWorker struct {
	name     string
	js       nats.JetStreamContext
	sub      *nats.Subscription
	consumer string
	stream   string
	subject  string
	log      *slog.Logger
}

func NewBaseWorker(name string, js nats.JetStreamContext, stream, consumer, subject string) *BaseWorker {
	return &BaseWorker{
		name:     name,
		js:       js,
		consumer: consumer,
		stream:   stream,
		subject:  subject,
		log:      logger.WithComponent(name),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Stop() error {
	if w.sub != nil {
		return w.sub.Drain()
	}
	return nil
}

func (w *BaseWorker) processMessages(ctx context.Context, handler MessageHandler) error {
	sub, err := w.js.PullSubscribe(w.subject, "",
		nats.Durable(w.consumer),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.Bind(w.stream, w.consumer),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", w.consumer, err)
	}
	w.sub = sub

	w.log.Info("starting worker", "stream", w.stream, "consumer", w.consumer)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			w.log.Error("error fetching messages", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			w.settle(msg, handler(ctx, msg.Subject, msg.Data))
		}
	}
}

func (w *BaseWorker) settle(msg *nats.Msg, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case errors.Is(err, ErrPermanent):
		w.log.Warn("discarding message", "subject", msg.Subject, "error", err)
		ackErr = msg.Term()
	default:
		w.log.Error("message failed, will be redelivered", "subject", msg.Subject, "error", err)
		ackErr = msg.Nak()
	}
	if ackErr != nil {
		w.log.Error("error acknowledging message", "subject", msg.Subject, "error", ackErr)
	}
}
