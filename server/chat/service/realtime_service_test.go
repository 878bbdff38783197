package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"crm_server/server/chat/domain"
	commonauth "crm_server/server/common/auth"
)

type realtimeFixture struct {
	*chatFixture
	auth   *commonauth.Service
	server *httptest.Server
}

func newRealtimeFixture(t *testing.T) *realtimeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newChatFixture()
	auth := commonauth.NewService("test-secret", 60)
	realtime := NewRealtimeService(auth, f.hub, f.svc, "*")

	r := gin.New()
	r.GET("/ws/chat", realtime.HandleWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &realtimeFixture{chatFixture: f, auth: auth, server: server}
}

func (f *realtimeFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.auth.GenerateToken(userID, userID+"@example.com", "operator")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.Envelope{Event: event, Payload: raw}))
}

func TestRealtimeRejectsMissingToken(t *testing.T) {
	f := newRealtimeFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeRejectsBadToken(t *testing.T) {
	f := newRealtimeFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeWelcomeEvent(t *testing.T) {
	f := newRealtimeFixture(t)
	conn := f.dial(t, "user-1")

	env := readEvent(t, conn)
	require.Equal(t, "connected", env.Event)

	var payload struct {
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, "user-1", payload.UserID)
	require.NotEmpty(t, payload.SessionID)
}

func TestRealtimeSendMessagePersistsAndBroadcasts(t *testing.T) {
	f := newRealtimeFixture(t)
	_, chat, err := f.svc.ResolveInbound(context.Background(), "5511999990000", "Maria")
	require.NoError(t, err)

	conn := f.dial(t, "user-1")
	readEvent(t, conn)

	writeEvent(t, conn, domain.EventJoinChat, domain.ChatRoomPayload{ChatID: chat.ID})
	writeEvent(t, conn, domain.EventSendMessage, domain.SendMessagePayload{ChatID: chat.ID, Message: "oi"})

	env := readEvent(t, conn)
	require.Equal(t, domain.EventNewMessage, env.Event)

	var message domain.Message
	require.NoError(t, json.Unmarshal(env.Payload, &message))
	require.Equal(t, "oi", message.Content)
	require.Equal(t, domain.DirectionOutbound, message.Direction)
	require.Equal(t, "user-1", message.SenderID)
	require.Equal(t, 1, f.messages.count())

	require.Eventually(t, func() bool {
		return len(f.deliverer.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	calls := f.deliverer.snapshot()
	require.Equal(t, "5511999990000", calls[0].to)
	require.Equal(t, message.ID, calls[0].messageID)
}

func TestRealtimeSendWithoutJoinIsRejected(t *testing.T) {
	f := newRealtimeFixture(t)
	_, chat, err := f.svc.ResolveInbound(context.Background(), "5511999990000", "Maria")
	require.NoError(t, err)

	conn := f.dial(t, "user-1")
	readEvent(t, conn)

	writeEvent(t, conn, domain.EventSendMessage, domain.SendMessagePayload{ChatID: chat.ID, Message: "oi"})

	env := readEvent(t, conn)
	require.Equal(t, domain.EventError, env.Event)
	require.Equal(t, 0, f.messages.count())
}

func TestRealtimeTypingFansOutExceptSender(t *testing.T) {
	f := newRealtimeFixture(t)
	_, chat, err := f.svc.ResolveInbound(context.Background(), "5511999990000", "Maria")
	require.NoError(t, err)

	sender := f.dial(t, "user-1")
	readEvent(t, sender)
	viewer := f.dial(t, "user-2")
	readEvent(t, viewer)

	writeEvent(t, sender, domain.EventJoinChat, domain.ChatRoomPayload{ChatID: chat.ID})
	writeEvent(t, viewer, domain.EventJoinChat, domain.ChatRoomPayload{ChatID: chat.ID})
	// Joins are processed in order on each connection; the typing event below
	// is only read after both joins because it is written afterwards on the
	// sender's connection and fanned out to the viewer's.
	time.Sleep(50 * time.Millisecond)

	writeEvent(t, sender, domain.EventTyping, domain.TypingPayload{ChatID: chat.ID, IsTyping: true})

	env := readEvent(t, viewer)
	require.Equal(t, domain.EventTypingStatus, env.Event)

	var payload domain.TypingStatusPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, "user-1", payload.UserID)
	require.True(t, payload.IsTyping)
}

func TestRealtimeUnknownEventReturnsError(t *testing.T) {
	f := newRealtimeFixture(t)
	conn := f.dial(t, "user-1")
	readEvent(t, conn)

	writeEvent(t, conn, "ping", map[string]any{})

	env := readEvent(t, conn)
	require.Equal(t, domain.EventError, env.Event)

	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, domain.ErrUnknownEvent.Error(), payload.Message)
}
