package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"waterwatch/pkg/events"
	"waterwatch/pkg/logger"
	"waterwatch/pkg/metrics"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoUpdates    = errors.New("no updates provided")
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Publisher is the JetStream publish primitive the services need.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

// eventPublisher encodes system events and publishes them on their subject.
// A nil Publisher turns publishing into a no-op.
type eventPublisher struct {
	pub     Publisher
	source  string
	log     *slog.Logger
	metrics *metrics.Metrics
}

func newEventPublisher(pub Publisher, source string, m *metrics.Metrics) eventPublisher {
	return eventPublisher{
		pub:     pub,
		source:  source,
		log:     logger.WithComponent(source),
		metrics: m,
	}
}

func (p eventPublisher) publish(e events.Event) {
	if p.pub == nil {
		return
	}

	data, msgID, err := events.Encode(e, p.source)
	if err != nil {
		p.log.Error("failed to encode event", "type", e.Type(), "error", err)
		return
	}

	if err := p.pub.PublishWithDedup(e.Subject(), data, msgID); err != nil {
		p.log.Error("failed to publish event", "type", e.Type(), "subject", e.Subject(), "error", err)
		return
	}
	p.metrics.RecordEvent(e.Type())
	p.log.Debug("published event", "type", e.Type(), "subject", e.Subject(), "id", msgID)
}

type scanner interface {
	Scan(dest ...any) error
}
