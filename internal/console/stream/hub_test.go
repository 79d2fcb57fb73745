package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHub_InitialThenBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, func() []Frame {
		return []Frame{{Type: FrameConnection, Data: "connected"}, {Type: FrameAlerts, Data: []string{}}}
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Equal(t, FrameConnection, readFrame(t, conn).Type)
	assert.Equal(t, FrameAlerts, readFrame(t, conn).Type)

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)
	h.Broadcast(FrameStats, map[string]int{"total_responses": 3})

	f := readFrame(t, conn)
	assert.Equal(t, FrameStats, f.Type)
	assert.Equal(t, map[string]interface{}{"total_responses": 3.0}, f.Data)
}

func TestHub_BroadcastDuringInitialSnapshotIsDelivered(t *testing.T) {
	var (
		h    *Hub
		once sync.Once
		done = make(chan struct{})
	)
	// Состояние меняется ровно в момент снятия начального снапшота
	h = NewHub(zap.NewNop(), nil, func() []Frame {
		once.Do(func() {
			go func() {
				h.Broadcast(FrameStats, "v2")
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(100 * time.Millisecond):
			}
		})
		return []Frame{{Type: FrameStats, Data: "v1"}}
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Equal(t, "v1", readFrame(t, conn).Data)
	assert.Equal(t, "v2", readFrame(t, conn).Data, "concurrent change must not be lost")
}

func TestHub_ClientLeaves(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Zero(t, h.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	h := NewHub(zap.NewNop(), []string{"https://dash.example"}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
