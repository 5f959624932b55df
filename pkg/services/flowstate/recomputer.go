// Package flowstate keeps the current flow result up to date as the network
// changes and hands every new result to its sinks.
package flowstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"waterwatch/pkg/debounce"
	"waterwatch/pkg/events"
	"waterwatch/pkg/flow"
	"waterwatch/pkg/logger"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultFetchTimeout   = 10 * time.Second
	DefaultBreakerFails   = 3
	DefaultBreakerTimeout = 30 * time.Second
)

// SnapshotProvider lists the network entities a computation needs.
type SnapshotProvider interface {
	ListPipelines(ctx context.Context) ([]ontology.Pipeline, error)
	ListActiveTanks(ctx context.Context) ([]ontology.Tank, error)
	ListClosedValves(ctx context.Context) ([]ontology.Valve, error)
}

// ResultSink receives every newly computed state.
type ResultSink interface {
	PublishFlow(ctx context.Context, state State) error
}

// State is one published flow result. It is shared between sinks and must
// not be modified.
type State struct {
	Result     flow.Result `json:"result"`
	Reason     string      `json:"reason"`
	ComputedAt time.Time   `json:"computed_at"`
	Sequence   uint64      `json:"sequence"`
}

// Event returns the summary event announcing s.
func (s State) Event() events.FlowComputed {
	return events.FlowComputed{
		Summary:    s.Result.Summary(),
		Reason:     s.Reason,
		Sequence:   s.Sequence,
		ComputedAt: s.ComputedAt,
	}
}

type Config struct {
	Flow           flow.Config
	Debounce       time.Duration
	FetchTimeout   time.Duration
	BreakerFails   int
	BreakerTimeout time.Duration
}

type Recomputer struct {
	provider  SnapshotProvider
	engine    *flow.Engine
	sinks     []ResultSink
	debouncer *debounce.Debouncer
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Metrics
	log       *slog.Logger
	timeout   time.Duration

	// run serializes computations so sequence numbers follow publish order.
	run sync.Mutex
	seq uint64

	mu     sync.RWMutex
	latest *State
}

func NewRecomputer(cfg Config, provider SnapshotProvider, m *metrics.Metrics, sinks ...ResultSink) *Recomputer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.BreakerFails <= 0 {
		cfg.BreakerFails = DefaultBreakerFails
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}

	log := logger.WithComponent("flowstate")
	return &Recomputer{
		provider:  provider,
		engine:    flow.NewEngine(cfg.Flow),
		sinks:     sinks,
		debouncer: debounce.New(cfg.Debounce),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "snapshot-fetch",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(cfg.BreakerFails)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		metrics: m,
		log:     log,
		timeout: cfg.FetchTimeout,
	}
}

// AddSink registers another receiver for future states.
func (r *Recomputer) AddSink(sink ResultSink) {
	r.run.Lock()
	defer r.run.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Trigger schedules a recomputation. Triggers arriving within the debounce
// window collapse into one run carrying the latest reason.
func (r *Recomputer) Trigger(reason string) bool {
	return r.debouncer.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RecomputeNow(ctx, reason)
	})
}

// HandleEvent triggers a recomputation for events that can change flow and
// reports whether it did.
func (r *Recomputer) HandleEvent(e events.Event) bool {
	if !events.TriggersRecompute(e) {
		return false
	}
	return r.Trigger(e.Type())
}

// Flush runs a pending debounced recomputation immediately.
func (r *Recomputer) Flush() bool {
	return r.debouncer.Flush()
}

// Stop drops any pending recomputation and rejects later triggers.
func (r *Recomputer) Stop() {
	r.debouncer.Stop()
}

// RecomputeNow fetches a snapshot, computes and publishes a new state. When
// the snapshot cannot be fetched the previous state stays current and is
// returned along with the error.
func (r *Recomputer) RecomputeNow(ctx context.Context, reason string) (State, error) {
	r.run.Lock()
	defer r.run.Unlock()

	snap, err := r.fetch(ctx)
	if err != nil {
		r.metrics.RecordRecomputeFailure()
		r.log.Error("failed to fetch network snapshot, keeping previous flow state", "reason", reason, "error", err)
		prev, _ := r.Latest()
		return prev, err
	}

	start := time.Now()
	res := r.engine.Compute(snap)
	elapsed := time.Since(start)
	r.metrics.RecordRecompute(elapsed, res)

	r.seq++
	state := State{
		Result:     res,
		Reason:     reason,
		ComputedAt: time.Now().UTC(),
		Sequence:   r.seq,
	}

	r.mu.Lock()
	r.latest = &state
	r.mu.Unlock()

	if res.Truncated {
		r.log.Warn("flow computation hit the iteration cap", "iterations", res.Iterations)
	}
	r.log.Info("flow recomputed",
		"reason", reason,
		"sequence", state.Sequence,
		"flowing", len(res.Flowing),
		"blocked", len(res.Blocked),
		"total", res.TotalSegmentCount,
		"duration", elapsed)

	for _, sink := range r.sinks {
		if err := sink.PublishFlow(ctx, state); err != nil {
			r.log.Error("failed to publish flow state", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
	return state, nil
}

// Latest returns the most recent state, if any has been computed.
func (r *Recomputer) Latest() (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return State{}, false
	}
	return *r.latest, true
}

func (r *Recomputer) fetch(ctx context.Context) (flow.Snapshot, error) {
	out, err := r.breaker.Execute(func() (any, error) {
		var snap flow.Snapshot
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			snap.Pipelines, err = r.provider.ListPipelines(gctx)
			return err
		})
		g.Go(func() (err error) {
			snap.Tanks, err = r.provider.ListActiveTanks(gctx)
			return err
		})
		g.Go(func() (err error) {
			snap.Valves, err = r.provider.ListClosedValves(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		return flow.Snapshot{}, fmt.Errorf("failed to fetch network snapshot: %w", err)
	}
	return out.(flow.Snapshot), nil
}

// Start computes the initial state.
func (r *Recomputer) Start(ctx context.Context) error {
	_, err := r.RecomputeNow(ctx, shared.ReasonStartup)
	return err
}
