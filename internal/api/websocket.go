package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink/internal/realtime"
)

// Fallbacks for zero values in config.WebSocketConfig.
const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// upgrader configures the WebSocket upgrader. The server prefers JSON when
// a viewer offers both subprotocols.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    realtime.Subprotocols(),
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsConn pumps frames between one WebSocket connection and its hub viewer.
type wsConn struct {
	hub    *realtime.Hub
	viewer *realtime.Viewer
	conn   *websocket.Conn
	logger *logging.Logger
}

// handleWebSocket upgrades the HTTP connection and attaches a viewer to
// the hub. The viewer receives the current snapshot immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	codec := realtime.CodecFor(conn.Subprotocol())
	viewer := realtime.NewViewer(codec, s.wsCfg.SendBuffer, r.RemoteAddr)
	c := &wsConn{
		hub:    s.hub,
		viewer: viewer,
		conn:   conn,
		logger: s.logger.With("viewer_id", viewer.ID()),
	}

	s.hub.Connect(viewer)
	c.logger.Debug("websocket connected", "remote", r.RemoteAddr, "codec", codec.Name())

	go c.writePump(s.wsCfg)
	go c.readPump(s.ctx, s.wsCfg)
}

func pumpTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongTimeout
	}
	return pingInterval, pongWait
}

// readPump reads frames from the connection and hands them to the hub.
func (c *wsConn) readPump(ctx context.Context, cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Disconnect(c.viewer)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := pumpTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any viewer frame keeps the connection alive even if the browser
		// does not answer protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.hub.HandleMessage(ctx, c.viewer, message)
	}
}

// writePump drains the viewer's queue onto the connection.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := pumpTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.viewer.Codec().Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.viewer.Outbound():
			if !ok {
				// Hub closed the queue
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
