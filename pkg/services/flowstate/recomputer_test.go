package flowstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/events"
	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

type fakeProvider struct {
	mu        sync.Mutex
	pipelines []ontology.Pipeline
	tanks     []ontology.Tank
	valves    []ontology.Valve
	err       error
	calls     int
}

func (p *fakeProvider) ListPipelines(ctx context.Context) ([]ontology.Pipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.pipelines, p.err
}

func (p *fakeProvider) ListActiveTanks(ctx context.Context) ([]ontology.Tank, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tanks, nil
}

func (p *fakeProvider) ListClosedValves(ctx context.Context) ([]ontology.Valve, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valves, nil
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type fakeSink struct {
	mu     sync.Mutex
	states []State
	err    error
}

func (s *fakeSink) PublishFlow(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return s.err
}

func (s *fakeSink) received() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func network() *fakeProvider {
	return &fakeProvider{
		pipelines: []ontology.Pipeline{{
			ID:    1,
			Nodes: []geo.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.001}, {Lat: 0, Lng: 0.002}},
		}},
		tanks: []ontology.Tank{{TankID: "T1", IsActive: true, Location: geo.GeoPoint{Lat: 0, Lng: 0}}},
	}
}

func TestRecomputeNowPublishesToSinks(t *testing.T) {
	sinkA, sinkB := &fakeSink{}, &fakeSink{err: errors.New("sink down")}
	r := NewRecomputer(Config{}, network(), nil, sinkA, sinkB)
	defer r.Stop()

	_, ok := r.Latest()
	assert.False(t, ok)

	state, err := r.RecomputeNow(context.Background(), shared.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Sequence)
	assert.Equal(t, shared.ReasonManual, state.Reason)
	assert.Len(t, state.Result.Flowing, 2)
	assert.Equal(t, 2, state.Result.TotalSegmentCount)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, state.Sequence, latest.Sequence)

	assert.Len(t, sinkA.received(), 1)
	assert.Len(t, sinkB.received(), 1)

	state, err = r.RecomputeNow(context.Background(), shared.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.Sequence)
}

func TestFetchFailureKeepsPreviousState(t *testing.T) {
	provider := network()
	sink := &fakeSink{}
	r := NewRecomputer(Config{}, provider, nil, sink)
	defer r.Stop()

	first, err := r.RecomputeNow(context.Background(), shared.ReasonStartup)
	require.NoError(t, err)

	provider.setErr(errors.New("database locked"))
	kept, err := r.RecomputeNow(context.Background(), shared.ReasonManual)
	require.Error(t, err)
	assert.Equal(t, first.Sequence, kept.Sequence)
	assert.Equal(t, first.Result, kept.Result)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, first.Sequence, latest.Sequence)
	assert.Len(t, sink.received(), 1)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	provider := network()
	provider.setErr(errors.New("unavailable"))
	r := NewRecomputer(Config{BreakerFails: 2, BreakerTimeout: time.Minute}, provider, nil)
	defer r.Stop()

	for i := 0; i < 2; i++ {
		_, err := r.RecomputeNow(context.Background(), shared.ReasonManual)
		require.Error(t, err)
	}

	provider.setErr(nil)
	_, err := r.RecomputeNow(context.Background(), shared.ReasonManual)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestTriggerCoalescesBursts(t *testing.T) {
	provider := network()
	sink := &fakeSink{}
	r := NewRecomputer(Config{Debounce: 30 * time.Millisecond}, provider, nil, sink)
	defer r.Stop()

	for _, reason := range []string{"a", "b", "c"} {
		assert.True(t, r.Trigger(reason))
	}

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	states := sink.received()
	require.Len(t, states, 1)
	assert.Equal(t, "c", states[0].Reason)
}

func TestHandleEventFiltersTriggers(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecomputer(Config{Debounce: time.Hour}, network(), nil, sink)
	defer r.Stop()

	assert.False(t, r.HandleEvent(events.TelemetryReceived{}))
	assert.False(t, r.Flush())

	assert.True(t, r.HandleEvent(events.ValveUpdated{Valve: ontology.Valve{ValveID: "V1"}}))
	assert.True(t, r.Flush())

	states := sink.received()
	require.Len(t, states, 1)
	assert.Equal(t, events.TypeValveUpdated, states[0].Reason)
}

func TestStopRejectsTriggers(t *testing.T) {
	r := NewRecomputer(Config{}, network(), nil)
	r.Stop()
	assert.False(t, r.Trigger(shared.ReasonManual))
}

func TestStateEvent(t *testing.T) {
	r := NewRecomputer(Config{}, network(), nil)
	defer r.Stop()

	state, err := r.RecomputeNow(context.Background(), shared.ReasonManual)
	require.NoError(t, err)

	e := state.Event()
	assert.Equal(t, 2, e.Summary.FlowingCount)
	assert.Equal(t, 1.0, e.Summary.Coverage)
	assert.Equal(t, state.Sequence, e.Sequence)
}

type recordingPublisher struct {
	subject string
	data    []byte
}

func (p *recordingPublisher) PublishWithDedup(subject string, data []byte, msgID string) error {
	p.subject, p.data = subject, data
	return nil
}

func TestNATSSinkPublishesFlowComputed(t *testing.T) {
	pub := &recordingPublisher{}
	state := State{Reason: shared.ReasonManual, Sequence: 3}

	require.NoError(t, NewNATSSink(pub).PublishFlow(context.Background(), state))
	assert.Equal(t, shared.SubjectFlowComputed, pub.subject)

	env, e, err := events.Decode(pub.data)
	require.NoError(t, err)
	assert.Equal(t, events.TypeFlowComputed, env.Type)
	computed, ok := e.(events.FlowComputed)
	require.True(t, ok)
	assert.Equal(t, uint64(3), computed.Sequence)
}
