package api

import (
	"alcyxob/coachsync/internal/hub"
	"alcyxob/coachsync/internal/identity"
	"alcyxob/coachsync/internal/logging"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const maxInboundMessage = 4096

// subscribeFrame is the first frame a client must send.
type subscribeFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NotificationHandler upgrades to a websocket and registers the connection
// with the hub once the subscribe frame has been verified.
type NotificationHandler struct {
	hub              *hub.Hub
	provider         identity.Provider
	handshakeTimeout time.Duration
	upgrader         websocket.Upgrader
}

func NewNotificationHandler(h *hub.Hub, provider identity.Provider, handshakeTimeout time.Duration) *NotificationHandler {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &NotificationHandler{
		hub:              h,
		provider:         provider,
		handshakeTimeout: handshakeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: handshakeTimeout,
			// Native clients send no Origin. The token in the subscribe frame
			// is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /notifications/ws.
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxInboundMessage)

	// 1. Handshake: one subscribe frame within the timeout
	if err := conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		_ = conn.Close()
		return
	}
	var frame subscribeFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "subscribe" || frame.Token == "" {
		reject(conn, "expected subscribe frame")
		return
	}
	id, err := h.provider.Verify(c.Request.Context(), frame.Token)
	if err != nil {
		reject(conn, "invalid token")
		return
	}

	// 2. Register. From here on only the hub writes to conn.
	session := h.hub.Connect(id, hub.NewWSConn(conn))
	defer h.hub.Disconnect(session)

	// A peer that stops answering pings misses the read deadline.
	window := h.hub.LivenessWindow()
	alive := func() error {
		now := time.Now()
		session.Touch(now)
		return conn.SetReadDeadline(now.Add(window))
	}
	conn.SetPongHandler(func(string) error { return alive() })
	if err := alive(); err != nil {
		return
	}

	// 3. Read until the peer goes away or the hub closes the session.
	// Inbound frames carry nothing, but reading is what processes pongs
	// and close frames.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("session_id", session.ID()).Msg("Unexpected websocket close")
			}
			return
		}
		if err := alive(); err != nil {
			return
		}
	}
}

func reject(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
	_ = conn.Close()
}
