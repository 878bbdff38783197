package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Socket event names. Incoming events are parsed against a closed set of
// payload types; unknown names are rejected instead of passed through.
const (
	EventSendMessage   = "send_message"
	EventTyping        = "typing"
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
	EventNewMessage    = "new_message"
	EventTypingStatus  = "typing_status"
	EventMessageStatus = "message_status"
	EventGatewayStatus = "whatsapp_status"
	EventError         = "error"
)

type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type SendMessagePayload struct {
	ChatID    string `json:"chatId"`
	Message   string `json:"message"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type ChatRoomPayload struct {
	ChatID string `json:"chatId"`
}

type TypingStatusPayload struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageStatusPayload struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

type GatewayStatusPayload struct {
	Connected bool      `json:"connected"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

var ErrUnknownEvent = errors.New("unknown event")

// ParseClientEvent decodes an incoming envelope into one of the client-sent
// payload types, validating required fields.
func ParseClientEvent(env Envelope) (any, error) {
	switch env.Event {
	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errors.New("invalid send_message payload")
		}
		p.ChatID = strings.TrimSpace(p.ChatID)
		if p.ChatID == "" {
			return nil, errors.New("chatId is required")
		}
		if strings.TrimSpace(p.Message) == "" && strings.TrimSpace(p.MediaURL) == "" {
			return nil, errors.New("message or mediaUrl is required")
		}
		return p, nil
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errors.New("invalid typing payload")
		}
		if strings.TrimSpace(p.ChatID) == "" {
			return nil, errors.New("chatId is required")
		}
		return p, nil
	case EventJoinChat, EventLeaveChat:
		var p ChatRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errors.New("invalid chat room payload")
		}
		p.ChatID = strings.TrimSpace(p.ChatID)
		if p.ChatID == "" {
			return nil, errors.New("chatId is required")
		}
		return p, nil
	default:
		return nil, ErrUnknownEvent
	}
}
