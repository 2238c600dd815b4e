package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream" + query
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)

	var ready StreamMessage
	require.NoError(t, websocket.JSON.Receive(conn, &ready))
	require.Equal(t, "ready", ready.Type)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsByOrg(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	scoped := dialHub(t, srv, "?org=org-1")
	defer scoped.Close()
	admin := dialHub(t, srv, "")
	defer admin.Close()
	waitForClients(t, hub, 2)

	require.NoError(t, hub.Handle(context.Background(), OutboxEntry{OrgID: "org-2", Payload: []byte(`{"n":1}`)}))
	require.NoError(t, hub.Handle(context.Background(), OutboxEntry{OrgID: "org-1", Payload: []byte(`{"n":2}`)}))

	var msg StreamMessage
	require.NoError(t, websocket.JSON.Receive(scoped, &msg))
	assert.Equal(t, "event", msg.Type)
	assert.JSONEq(t, `{"n":2}`, string(msg.Event))

	require.NoError(t, websocket.JSON.Receive(admin, &msg))
	assert.JSONEq(t, `{"n":1}`, string(msg.Event))
	require.NoError(t, websocket.JSON.Receive(admin, &msg))
	assert.JSONEq(t, `{"n":2}`, string(msg.Event))
}

func TestHub_PingAndDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "?org=org-1")
	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "ping"}))
	var msg StreamMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
	assert.NoError(t, hub.Handle(context.Background(), OutboxEntry{OrgID: "org-1"}))
}

func TestHub_StalledClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(nil)
	hub.buffer = 1
	hub.writeTimeout = 200 * time.Millisecond
	srv := httptest.NewServer(hub)
	defer srv.Close()

	stalled := dialHub(t, srv, "?org=org-1")
	defer stalled.Close()
	waitForClients(t, hub, 1)

	payload := []byte(`{"blob":"` + strings.Repeat("x", 256*1024) + `"}`)
	start := time.Now()
	for i := 0; i < 200; i++ {
		require.NoError(t, hub.Handle(context.Background(), OutboxEntry{OrgID: "org-1", Payload: payload}))
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	waitForClients(t, hub, 0)

	healthy := dialHub(t, srv, "?org=org-1")
	defer healthy.Close()
	waitForClients(t, hub, 1)
	require.NoError(t, hub.Handle(context.Background(), OutboxEntry{OrgID: "org-1", Payload: []byte(`{"n":1}`)}))
	var msg StreamMessage
	require.NoError(t, websocket.JSON.Receive(healthy, &msg))
	assert.JSONEq(t, `{"n":1}`, string(msg.Event))
}
