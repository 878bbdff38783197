package service

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crm_server/server/chat/domain"
	commonauth "crm_server/server/common/auth"
	commonlog "crm_server/server/common/log"
	"crm_server/server/common/transport/httpresp"
)

type tokenVerifier interface {
	VerifyToken(token string) (commonauth.Identity, error)
}

// RealtimeService owns the socket lifecycle: authenticate the handshake,
// admit the connection into its user room, then run the read loop over the
// closed event set. Rejection happens before the upgrade so an unauthenticated
// peer never holds a connection or a room slot.
type RealtimeService struct {
	verifier tokenVerifier
	hub      *Hub
	chat     *ChatService
	upgrader websocket.Upgrader
}

func NewRealtimeService(verifier tokenVerifier, hub *Hub, chat *ChatService, allowedOrigin string) *RealtimeService {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
	return &RealtimeService{verifier: verifier, hub: hub, chat: chat, upgrader: upgrader}
}

func (s *RealtimeService) HandleWS(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	identity, err := s.verifier.VerifyToken(token)
	if err != nil {
		message := httpresp.ErrInvalidToken
		if errors.Is(err, commonauth.ErrTokenNotProvided) {
			message = "token not provided"
		}
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(message))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	client := NewWSClient(newSessionID(), identity.UserID, conn)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	commonlog.Infof("event=realtime action=connect status=ok session_id=%s user_id=%s", client.SessionID, identity.UserID)
	client.WriteEvent("connected", map[string]any{
		"userId":      identity.UserID,
		"sessionId":   client.SessionID,
		"connectedAt": time.Now().UTC(),
	})

	ctx := c.Request.Context()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(90 * time.Second)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			commonlog.Infof("event=realtime action=disconnect session_id=%s user_id=%s", client.SessionID, identity.UserID)
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			client.WriteEvent(domain.EventError, domain.ErrorPayload{Message: "invalid event envelope"})
			continue
		}
		payload, err := domain.ParseClientEvent(env)
		if err != nil {
			client.WriteEvent(domain.EventError, domain.ErrorPayload{Message: err.Error()})
			continue
		}

		switch p := payload.(type) {
		case domain.ChatRoomPayload:
			if env.Event == domain.EventJoinChat {
				s.hub.JoinChat(client, p.ChatID)
			} else {
				s.hub.LeaveChat(client, p.ChatID)
			}
		case domain.TypingPayload:
			if !s.hub.InChat(client, p.ChatID) {
				client.WriteEvent(domain.EventError, domain.ErrorPayload{Message: "join the chat before emitting to it"})
				continue
			}
			s.hub.EmitToChatExcept(p.ChatID, client.SessionID, domain.EventTypingStatus, domain.TypingStatusPayload{
				UserID:   identity.UserID,
				ChatID:   p.ChatID,
				IsTyping: p.IsTyping,
			})
		case domain.SendMessagePayload:
			if !s.hub.InChat(client, p.ChatID) {
				client.WriteEvent(domain.EventError, domain.ErrorPayload{Message: "join the chat before emitting to it"})
				continue
			}
			startedAt := time.Now()
			message, err := s.chat.SendFromOperator(ctx, p.ChatID, identity.UserID, p.Message, p.MediaURL, p.MediaType)
			if err != nil {
				commonlog.Errorf("event=realtime action=send_message status=failed chat_id=%s user_id=%s latency_ms=%d error=%v", p.ChatID, identity.UserID, time.Since(startedAt).Milliseconds(), err)
				client.WriteEvent(domain.EventError, domain.ErrorPayload{Message: "failed to persist message"})
				continue
			}
			commonlog.Infof("event=realtime action=send_message status=ok chat_id=%s user_id=%s message_id=%s latency_ms=%d", p.ChatID, identity.UserID, message.ID, time.Since(startedAt).Milliseconds())
		}
	}
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf)
}
