package socket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"docverify/internal/document/model"
	"docverify/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are restricted by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authorizer reports whether userID may watch the given document. It returns
// an error wrapping model.ErrNotFound when the document is absent or hidden.
type Authorizer func(ctx context.Context, userID string, role model.Role, docID string) error

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Room   string
	UserID string
	Role   model.Role
	Send   chan []byte
}

// ServeWs upgrades the request and joins the client to a room: the document
// named by docId, or the verifier queue when docId is absent.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string, role model.Role) {
	room := r.URL.Query().Get("docId")
	if room == "" {
		if !role.CanResolve() {
			logger.Sugar.Warnf("Connection rejected: user %s (role %s) asked for the queue room", userID, role)
			http.Error(w, "Forbidden: verifier or admin role required", http.StatusForbidden)
			return
		}
		room = QueueRoom
	} else if err := hub.authorize(r.Context(), userID, role, room); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Sugar.Warnf("Connection rejected: document %s not found for user %s", room, userID)
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		logger.Sugar.Errorf("Error authorizing room %s: %v", room, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:    hub,
		Conn:   conn,
		Room:   room,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, 256),
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) authorize(ctx context.Context, userID string, role model.Role, docID string) error {
	if h.Authorize == nil {
		return nil
	}
	return h.Authorize(ctx, userID, role, docID)
}

// readPump drains inbound frames. The server only pushes; a frame from the
// client just marks it as still present.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}
		c.Hub.touch(c)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
