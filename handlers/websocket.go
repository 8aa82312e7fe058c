package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

var errConnClosed = errors.New("websocket closed")

// wsConn serializes writes to one websocket so the hub's writer and the
// closing handler never write concurrently. Once closed it refuses every
// write; the underlying conn goes back to a pool when the handler returns.
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
	closed    bool
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errConnClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errConnClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}

// HandleDashboard subscribes the connection to the broadcast hub and
// reads until the peer goes away. Frames sent by the peer are discarded;
// reading only keeps the pong deadline and close detection working.
func (h *Handler) HandleDashboard(c *websocket.Conn) {
	conn := &wsConn{conn: c, writeWait: h.ws.WriteWait}
	sub, err := h.hub.Subscribe(conn)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket rejected")
		_ = conn.Close()
		return
	}
	// The conn is released when this returns, so the writer must be gone.
	defer func() {
		sub.Close()
		<-sub.Stopped()
	}()

	c.SetReadLimit(h.ws.MaxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	})

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("subscriber", sub.ID()).Msg("websocket read error")
			}
			return
		}
		select {
		case <-sub.Done():
			return
		default:
		}
	}
}
