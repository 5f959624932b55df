package embeddednats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/shared"
)

func startTestNATS(t *testing.T) *EmbeddedNATS {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = -1
	cfg.DataDir = t.TempDir()

	en, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, en.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		en.Shutdown(ctx)
	})
	return en
}

func TestCreateWaterStreams(t *testing.T) {
	en := startTestNATS(t)

	require.NoError(t, en.CreateWaterStreams())
	// Running it again updates instead of failing.
	require.NoError(t, en.CreateWaterStreams())
	require.NoError(t, en.HealthCheck())

	for _, s := range WaterStreams() {
		_, err := en.JetStream().StreamInfo(s.Name)
		assert.NoError(t, err, s.Name)
	}
	for _, c := range WaterConsumers() {
		_, err := en.JetStream().ConsumerInfo(c.Stream, c.Consumer)
		assert.NoError(t, err, c.Consumer)
	}
}

func TestPublishWithDedup(t *testing.T) {
	en := startTestNATS(t)
	require.NoError(t, en.CreateWaterStreams())

	subject := shared.AssetSubject(shared.KindValve, shared.ActionUpdated)
	require.NoError(t, en.PublishWithDedup(subject, []byte(`{"a":1}`), "msg-1"))
	require.NoError(t, en.PublishWithDedup(subject, []byte(`{"a":1}`), "msg-1"))
	require.NoError(t, en.PublishWithDedup(subject, []byte(`{"a":2}`), "msg-2"))

	n, err := en.StreamMessages(shared.StreamAssets)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestHealthCheck_NotStarted(t *testing.T) {
	en, err := New(nil)
	require.NoError(t, err)
	assert.Error(t, en.HealthCheck())
	assert.Error(t, en.PublishWithDedup("x", nil, "id"))
}
