package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "crm_server/server/common/log"
)

// wsConn is the subset of *websocket.Conn the hub needs. Fakes implement it
// in tests.
type wsConn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type WSClient struct {
	SessionID string
	UserID    string
	conn      wsConn
	mu        sync.Mutex
}

func NewWSClient(sessionID, userID string, conn wsConn) *WSClient {
	return &WSClient{SessionID: sessionID, UserID: userID, conn: conn}
}

func (c *WSClient) WriteEvent(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteJSON(map[string]any{"event": event, "payload": payload})
}

func userRoom(userID string) string { return "user:" + userID }
func chatRoom(chatID string) string { return "chat:" + chatID }

// Hub is the connection registry and broadcast router. Rooms are keyed
// "user:{id}" or "chat:{id}"; every authenticated connection is a member of
// its user room for its whole lifetime. With a Redis client attached, emits
// are published on a shared channel so every server instance fans out to its
// local members; without one, delivery is local-only.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*WSClient
	rooms     map[string]map[string]*WSClient
	redis     *redis.Client
	redisSub  *redis.PubSub
	subCancel context.CancelFunc
}

const chatEventsChannel = "chat:events"

type hubEvent struct {
	Kind           string          `json:"kind"`
	Room           string          `json:"room,omitempty"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	ExcludeSession string          `json:"exclude_session,omitempty"`
}

func NewHub() *Hub {
	return &Hub{sessions: map[string]*WSClient{}, rooms: map[string]map[string]*WSClient{}}
}

func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

func (h *Hub) StartRedisSubscriber(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, chatEventsChannel)
	h.redisSub = sub
	h.subCancel = cancel
	h.mu.Unlock()

	go h.consumeEvents(subCtx, sub)
	return nil
}

func (h *Hub) StopRedisSubscriber() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

// Register admits an authenticated connection and joins its user room.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[client.SessionID] = client
	h.joinLocked(userRoom(client.UserID), client)
}

// Unregister tears down every room membership immediately and closes the
// connection. No draining.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, client.SessionID)
	for room, members := range h.rooms {
		delete(members, client.SessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	_ = client.conn.Close()
}

func (h *Hub) JoinChat(client *WSClient, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(chatRoom(chatID), client)
}

func (h *Hub) LeaveChat(client *WSClient, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := chatRoom(chatID)
	if members, ok := h.rooms[room]; ok {
		delete(members, client.SessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InChat reports whether the connection has joined the chat's room. Event
// handlers use it instead of trusting payloads.
func (h *Hub) InChat(client *WSClient, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[chatRoom(chatID)]
	if !ok {
		return false
	}
	_, ok = members[client.SessionID]
	return ok
}

func (h *Hub) joinLocked(room string, client *WSClient) {
	members, ok := h.rooms[room]
	if !ok {
		members = map[string]*WSClient{}
		h.rooms[room] = members
	}
	members[client.SessionID] = client
}

func (h *Hub) EmitToUser(userID, event string, payload any) {
	if h.publish("room", userRoom(userID), event, payload, "") {
		return
	}
	h.emitRoomLocal(userRoom(userID), event, payload, "")
}

func (h *Hub) EmitToChat(chatID, event string, payload any) {
	if h.publish("room", chatRoom(chatID), event, payload, "") {
		return
	}
	h.emitRoomLocal(chatRoom(chatID), event, payload, "")
}

// EmitToChatExcept delivers to every room member but the named session.
// Typing rebroadcast uses it so the sender never echoes itself.
func (h *Hub) EmitToChatExcept(chatID, excludeSessionID, event string, payload any) {
	if h.publish("room", chatRoom(chatID), event, payload, excludeSessionID) {
		return
	}
	h.emitRoomLocal(chatRoom(chatID), event, payload, excludeSessionID)
}

// BroadcastAll reaches every live connection regardless of room membership.
func (h *Hub) BroadcastAll(event string, payload any) {
	if h.publish("all", "", event, payload, "") {
		return
	}
	h.broadcastAllLocal(event, payload)
}

func (h *Hub) emitRoomLocal(room, event string, payload any, excludeSessionID string) int {
	h.mu.RLock()
	members := make([]*WSClient, 0, len(h.rooms[room]))
	for sessionID, client := range h.rooms[room] {
		if excludeSessionID != "" && sessionID == excludeSessionID {
			continue
		}
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.WriteEvent(event, payload)
	}
	return len(members)
}

func (h *Hub) broadcastAllLocal(event string, payload any) int {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.sessions))
	for _, client := range h.sessions {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.WriteEvent(event, payload)
	}
	return len(clients)
}

func (h *Hub) publish(kind, room, event string, payload any, excludeSessionID string) bool {
	h.mu.RLock()
	redisClient := h.redis
	h.mu.RUnlock()
	if redisClient == nil {
		return false
	}
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	b, err := json.Marshal(hubEvent{Kind: kind, Room: room, Event: event, Payload: payloadRaw, ExcludeSession: excludeSessionID})
	if err != nil {
		commonlog.Errorf("event=chat_hub action=publish status=failed kind=%s room=%s error=%v", kind, room, err)
		return false
	}
	if err := redisClient.Publish(context.Background(), chatEventsChannel, b).Err(); err != nil {
		commonlog.Errorf("event=chat_hub action=publish status=failed kind=%s room=%s error=%v", kind, room, err)
		return false
	}
	return true
}

func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var event hubEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			continue
		}
		var payload any
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			continue
		}
		switch event.Kind {
		case "room":
			fanout := h.emitRoomLocal(event.Room, event.Event, payload, event.ExcludeSession)
			commonlog.Debugf("event=chat_hub action=consume status=ok kind=room room=%s fanout_count=%d", event.Room, fanout)
		case "all":
			fanout := h.broadcastAllLocal(event.Event, payload)
			commonlog.Debugf("event=chat_hub action=consume status=ok kind=all fanout_count=%d", fanout)
		}
	}
}
