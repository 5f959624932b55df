package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/flow"
	"waterwatch/pkg/services/flowstate"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestSessionReceivesLatestStateOnConnect(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	state := flowstate.State{Result: flow.Result{TotalSegmentCount: 4}, Reason: "startup", Sequence: 7}
	require.NoError(t, hub.PublishFlow(context.Background(), state))

	conn := dial(t, srv, nil)

	var frame Frame
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &frame))
	assert.Equal(t, FrameFlowState, frame.Type)
	assert.Equal(t, uint64(7), frame.Data.Sequence)
	assert.Equal(t, 4, frame.Data.Result.TotalSegmentCount)
}

func TestBroadcastReachesEverySession(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv, nil)
	b := dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"valve_updated"}`))

	assert.JSONEq(t, `{"type":"valve_updated"}`, string(readFrame(t, a)))
	assert.JSONEq(t, `{"type":"valve_updated"}`, string(readFrame(t, b)))
}

func TestSessionRemovedOnDisconnect(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(Config{AllowedOrigins: []string{"http://dashboard.local"}}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, srv, http.Header{"Origin": {"http://dashboard.local"}})
}

func TestClosedHubRejectsSessions(t *testing.T) {
	hub := NewHub(Config{}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	require.NoError(t, hub.Health(context.Background()))
	hub.Close()
	assert.ErrorIs(t, hub.Health(context.Background()), ErrHubClosed)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPublishFlowDeliversOncePerSession(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	defer hub.Close()

	const n = 50
	sessions := make([]*session, n)
	for i := range sessions {
		sessions[i] = &session{id: fmt.Sprintf("s-%d", i), send: make(chan []byte, 4)}
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			assert.True(t, hub.register(s))
		}(s)
	}
	require.NoError(t, hub.PublishFlow(context.Background(), flowstate.State{Reason: "manual", Sequence: 1}))
	wg.Wait()

	for _, s := range sessions {
		assert.Len(t, s.send, 1, "session %s", s.id)
	}
}
