package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
	"github.com/lensfield/photoshell/internal/supervisor"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// The renderer connects from photoapp:// or the dev server;
		// same-host requests carry no Origin at all.
		return origin == "" ||
			strings.HasPrefix(origin, "photoapp://") ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:")
	},
}

// Handler streams backend health snapshots to renderer connections.
type Handler struct {
	monitor *supervisor.Monitor
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a WebSocket handler. metrics may be nil.
func NewHandler(monitor *supervisor.Monitor, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{monitor: monitor, logger: logger, metrics: metrics}
}

type event struct {
	Type     string              `json:"type"`
	Snapshot supervisor.Snapshot `json:"snapshot"`
}

// HandleConnection upgrades the request and pushes the current snapshot
// followed by every subsequent health event until the client leaves.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	snapshots, cancel := h.monitor.Subscribe()
	defer cancel()

	// New subscribers get the current state before any deltas.
	if err := h.write(conn, event{Type: "health", Snapshot: h.monitor.Snapshot()}); err != nil {
		return
	}

	// Reads are drained only to detect the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.write(conn, event{Type: "health", Snapshot: snap}); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, ev event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}
