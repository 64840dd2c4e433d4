package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla websocket to Conn.
type WSConn struct {
	conn *websocket.Conn
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (w *WSConn) Send(deadline time.Time, payload []byte) error {
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *WSConn) Ping(deadline time.Time) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close sends a best-effort close frame before closing the socket.
func (w *WSConn) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
