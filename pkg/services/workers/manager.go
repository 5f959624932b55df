package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	embeddednats "waterwatch/pkg/services/embedded-nats"
	"waterwatch/pkg/logger"
)

type Manager struct {
	workers []Worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     *slog.Logger
}

func NewManager(natsClient *embeddednats.EmbeddedNATS, workers ...Worker) (*Manager, error) {
	if natsClient.Connection() == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}
	if natsClient.JetStream() == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
		log:     logger.WithComponent("workers"),
	}, nil
}

func (m *Manager) Start() error {
	m.log.Info("starting NATS workers", "count", len(m.workers))

	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			m.log.Info("starting worker", "worker", w.Name())
			if err := w.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("worker error", "worker", w.Name(), "error", err)
			}
			m.log.Info("worker stopped", "worker", w.Name())
		}(worker)
	}
	return nil
}

// Stop cancels every worker and waits for them to return. The NATS
// connection is left to its owner.
func (m *Manager) Stop() error {
	m.log.Info("stopping NATS workers")

	m.cancel()

	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			m.log.Error("error stopping worker", "worker", worker.Name(), "error", err)
		}
	}

	m.wg.Wait()

	m.log.Info("all workers stopped")
	return nil
}
