package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/supervisor"
)

func newStreamServer(t *testing.T) (*httptest.Server, *supervisor.Monitor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sup := supervisor.New(supervisor.Options{Command: "/bin/true"}, nil, nil, logging.NewNop(), nil)
	monitor := supervisor.NewMonitor(sup, supervisor.NewProber(time.Second, logging.NewNop(), nil), time.Hour, logging.NewNop())

	r := gin.New()
	r.GET("/stream", NewHandler(monitor, logging.NewNop(), nil).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, monitor
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamSendsInitialSnapshot(t *testing.T) {
	srv, _ := newStreamServer(t)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "health", ev.Type)
	assert.False(t, ev.Snapshot.BackendRunning)
}

func TestStreamForwardsCheckResults(t *testing.T) {
	srv, monitor := newStreamServer(t)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial event
	require.NoError(t, conn.ReadJSON(&initial))

	// A forced check on a stopped backend emits a skipped snapshot.
	monitor.Check(t.Context())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.True(t, ev.Snapshot.Skipped)
	assert.False(t, ev.Snapshot.Healthy)
}

func TestStreamMultipleClients(t *testing.T) {
	srv, monitor := newStreamServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
	}

	monitor.Check(t.Context())

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "health", ev.Type)
	}
}
