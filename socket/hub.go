package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"docverify/internal/document/model"
	"docverify/pkg/logger"
)

const (
	DocumentSubmittedType = string(model.EventDocumentSubmitted) // New upload waiting for review
	DocumentResolvedType  = string(model.EventDocumentResolved)  // Verified or rejected
	PresenceUpdateType    = "PRESENCE_UPDATE"                     // Someone joined or left a room

	// QueueRoom is joined by verifiers watching the pending queue.
	QueueRoom = "queue"

	DefaultBroadcastBuffer = 256
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id,omitempty"`
	Payload json.RawMessage `json:"payload"`

	Room string `json:"-"`
}

type UserStatus struct {
	UserID   string     `json:"user_id"`
	Role     model.Role `json:"role"`
	LastSeen time.Time  `json:"last_seen"`
}

// Hub fans workflow events out to the clients of a room. Rooms are keyed by
// document id, plus QueueRoom for verifiers.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	Presence   map[string]map[string]UserStatus // room -> userID -> status

	// Authorize decides whether a principal may join a document room.
	Authorize Authorizer

	mu   sync.Mutex
	done chan struct{}
}

func NewHub(authorize Authorizer, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBroadcastBuffer
	}
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, buffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Presence:   make(map[string]map[string]UserStatus),
		Authorize:  authorize,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then drops
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case msg := <-h.Broadcast:
			h.broadcast(msg)
		}
	}
}

// Publish queues an event for delivery. It never blocks; when the buffer is
// full the event is dropped.
func (h *Hub) Publish(event model.Event) {
	if event.Document == nil {
		return
	}
	payload, err := json.Marshal(event.Document)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s event: %v", event.Type, err)
		return
	}

	rooms := []string{QueueRoom}
	switch event.Type {
	case model.EventDocumentSubmitted:
		// queue only
	case model.EventDocumentResolved:
		rooms = append(rooms, event.Document.ID)
	default:
		logger.Sugar.Warnf("Ignoring unknown event type %q", event.Type)
		return
	}

	for _, room := range rooms {
		msg := WSMessage{Type: string(event.Type), DocID: event.Document.ID, Payload: payload, Room: room}
		select {
		case h.Broadcast <- msg:
		default:
			logger.Sugar.Warnf("Broadcast buffer full, dropping %s for doc %s (room %s)", msg.Type, msg.DocID, room)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if h.Rooms[client.Room] == nil {
		h.Rooms[client.Room] = make(map[*Client]bool)
		h.Presence[client.Room] = make(map[string]UserStatus)
	}
	h.Rooms[client.Room][client] = true
	h.Presence[client.Room][client.UserID] = UserStatus{UserID: client.UserID, Role: client.Role, LastSeen: time.Now()}
	h.mu.Unlock()

	logger.Sugar.Infof("User %s joined room %s", client.UserID, client.Room)
	h.broadcastPresenceUpdate(client.Room)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	room := client.Room
	_, ok := h.Rooms[room][client]
	if ok {
		delete(h.Rooms[room], client)
		close(client.Send)
		// Another tab of the same user may still be connected.
		if !h.userInRoom(room, client.UserID) {
			delete(h.Presence[room], client.UserID)
		}
		if len(h.Rooms[room]) == 0 {
			delete(h.Rooms, room)
			delete(h.Presence, room)
			logger.Sugar.Infof("Closed empty room: %s", room)
		}
	}
	stillOpen := h.Rooms[room] != nil
	h.mu.Unlock()

	if ok && stillOpen {
		h.broadcastPresenceUpdate(room)
	}
}

func (h *Hub) broadcast(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.Rooms[msg.Room]))
	for client := range h.Rooms[msg.Room] {
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
			h.unregister(client)
		}
	}
}

// touch refreshes the sender's presence timestamp.
func (h *Hub) touch(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.Presence[client.Room][client.UserID]; ok {
		status.LastSeen = time.Now()
		h.Presence[client.Room][client.UserID] = status
	}
}

func (h *Hub) userInRoom(room, userID string) bool {
	for c := range h.Rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) broadcastPresenceUpdate(room string) {
	var userStatuses []UserStatus
	var clientsToSend []*Client

	h.mu.Lock()
	if _, ok := h.Presence[room]; ok {
		userStatuses = make([]UserStatus, 0, len(h.Presence[room]))
		for _, status := range h.Presence[room] {
			userStatuses = append(userStatuses, status)
		}
		clientsToSend = make([]*Client, 0, len(h.Rooms[room]))
		for client := range h.Rooms[room] {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(userStatuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	msg := WSMessage{Type: PresenceUpdateType, Payload: payload}
	if room != QueueRoom {
		msg.DocID = room
	}
	broadcastPayload, _ := json.Marshal(msg)

	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			// The pumps deal with unresponsive clients.
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.UserID)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, clients := range h.Rooms {
		for client := range clients {
			close(client.Send)
		}
		delete(h.Rooms, room)
		delete(h.Presence, room)
	}
}
