package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/prasetyowira/tokoar_be/internal/chat"
)

// Client is one live connection. A user may hold several at once; the set of
// a user's connections is their personal room.
type Client struct {
	ID     string
	UserID uuid.UUID
	Role   string
	Name   string
	Conn   *WebSocketConn
	Send   chan []byte
}

// Event is the outbound wire frame.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is the process-wide presence registry and room broadcaster. All state
// is in-memory and rebuilt from reconnects after a restart. It implements
// chat.Broadcaster and chat.Registry.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[uuid.UUID]map[string]*Client
	rooms   map[string]map[string]*Client
	typing  map[string]map[uuid.UUID]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[uuid.UUID]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		typing:  make(map[string]map[uuid.UUID]bool),
	}
}

func marshal(event string, data interface{}) []byte {
	b, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		log.Printf("realtime: marshal %s: %v", event, err)
		return nil
	}
	return b
}

// push is non-blocking: a client with a full buffer misses the frame rather
// than stalling the fan-out.
func push(c *Client, payload []byte) {
	select {
	case c.Send <- payload:
	default:
	}
}

// Register adds the connection and, when it is the user's first, broadcasts
// the online presence event.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	conns := h.users[c.UserID]
	first := len(conns) == 0
	if conns == nil {
		conns = make(map[string]*Client)
		h.users[c.UserID] = conns
	}
	conns[c.ID] = c
	h.mu.Unlock()

	log.Printf("realtime: client registered: %s (user %s)", c.ID, c.UserID)

	if first {
		h.BroadcastAll(chat.EvUserOnline, chat.PresenceEvent{
			UserID: c.UserID.String(),
			Role:   c.Role,
			Name:   c.Name,
		})
	}
}

// Unregister removes the connection from every room, sweeps the user out of
// all typing sets when this was their last connection (broadcasting a
// stop-typing per affected conversation so no peer is left with a stuck
// indicator), and broadcasts offline presence.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for roomID, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if conns := h.users[c.UserID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
		}
	}
	last := len(h.users[c.UserID]) == 0

	var stopped []string
	if last {
		for convID, set := range h.typing {
			if set[c.UserID] {
				delete(set, c.UserID)
				if len(set) == 0 {
					delete(h.typing, convID)
				}
				stopped = append(stopped, convID)
			}
		}
	}
	close(c.Send)
	h.mu.Unlock()

	log.Printf("realtime: client unregistered: %s (user %s)", c.ID, c.UserID)

	for _, convID := range stopped {
		h.EmitToRoomExcept(convID, c.UserID, chat.EvUserStopTyping, chat.TypingEvent{
			UserID:         c.UserID.String(),
			UserName:       c.Name,
			ConversationID: convID,
		})
	}
	if last {
		h.BroadcastAll(chat.EvUserOffline, chat.PresenceEvent{
			UserID: c.UserID.String(),
			Role:   c.Role,
			Name:   c.Name,
		})
	}
}

func (h *Hub) JoinRoom(roomID string, c *Client) {
	h.mu.Lock()
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) LeaveRoom(roomID string, c *Client) {
	h.mu.Lock()
	if members := h.rooms[roomID]; members != nil {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// EmitToRoom delivers one frame to every connection subscribed to the room.
func (h *Hub) EmitToRoom(roomID string, event string, data interface{}) {
	payload := marshal(event, data)
	if payload == nil {
		return
	}
	h.mu.RLock()
	for _, c := range h.rooms[roomID] {
		push(c, payload)
	}
	h.mu.RUnlock()
}

// EmitToRoomExcept skips every connection belonging to the excluded user.
func (h *Hub) EmitToRoomExcept(roomID string, except uuid.UUID, event string, data interface{}) {
	payload := marshal(event, data)
	if payload == nil {
		return
	}
	h.mu.RLock()
	for _, c := range h.rooms[roomID] {
		if c.UserID == except {
			continue
		}
		push(c, payload)
	}
	h.mu.RUnlock()
}

// EmitToUser targets the user's personal room: all of their connections,
// whatever conversation rooms they have joined.
func (h *Hub) EmitToUser(userID uuid.UUID, event string, data interface{}) {
	payload := marshal(event, data)
	if payload == nil {
		return
	}
	h.mu.RLock()
	for _, c := range h.users[userID] {
		push(c, payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) BroadcastAll(event string, data interface{}) {
	payload := marshal(event, data)
	if payload == nil {
		return
	}
	h.mu.RLock()
	for _, c := range h.clients {
		push(c, payload)
	}
	h.mu.RUnlock()
}

// SendToClient targets a single connection; used for error events and
// direct replies.
func (h *Hub) SendToClient(c *Client, event string, data interface{}) {
	payload := marshal(event, data)
	if payload == nil {
		return
	}
	h.mu.RLock()
	if _, ok := h.clients[c.ID]; ok {
		push(c, payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) OnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.users))
	for id := range h.users {
		out = append(out, id)
	}
	return out
}

// SetTyping mutates the conversation's typing set and reports whether the
// entry actually changed.
func (h *Hub) SetTyping(conversationID string, userID uuid.UUID, typing bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.typing[conversationID]
	if typing {
		if set == nil {
			set = make(map[uuid.UUID]bool)
			h.typing[conversationID] = set
		}
		if set[userID] {
			return false
		}
		set[userID] = true
		return true
	}
	if set == nil || !set[userID] {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(h.typing, conversationID)
	}
	return true
}

// TypingUsers lists who is currently marked typing in a conversation.
func (h *Hub) TypingUsers(conversationID string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.typing[conversationID]))
	for id := range h.typing[conversationID] {
		out = append(out, id)
	}
	return out
}
