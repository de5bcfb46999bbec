package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, origins ...string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), origins)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHubBroadcastsQRAndStatus(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.SendQRCode("s1", "2@abc")
	hub.SendStatus("s1", "active")

	evt := readEvent(t, conn)
	assert.Equal(t, EventQR, evt.Type)
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, "2@abc", evt.QR)

	evt = readEvent(t, conn)
	assert.Equal(t, EventStatus, evt.Type)
	assert.Equal(t, "active", evt.Status)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestHubFiltersBySession(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "?session_id=s2")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.SendStatus("s1", "pairing")
	hub.SendStatus("s2", "inactive")

	evt := readEvent(t, conn)
	assert.Equal(t, "s2", evt.SessionID)
	assert.Equal(t, "inactive", evt.Status)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	_, srv := newTestHub(t, "https://app.example.com")
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}
