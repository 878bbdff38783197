package domain

import "time"

type MessageDirection string
type MessageStatus string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// Contact is an external party reached over the messaging gateway. The phone
// number is its identity and never changes; name and avatar may.
type Contact struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	AvatarKey   string    `json:"avatar_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chat is the single open conversation thread with a contact.
type Chat struct {
	ID            string     `json:"id"`
	ContactID     string     `json:"contact_id"`
	Archived      bool       `json:"archived"`
	LastMessageID *string    `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ChatSummary struct {
	Chat
	ContactPhone    string  `json:"contact_phone"`
	ContactName     string  `json:"contact_name"`
	LastMessageBody *string `json:"last_message_body,omitempty"`
}

type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	ContactID string           `json:"contact_id"`
	Content   string           `json:"content"`
	MediaURL  string           `json:"media_url,omitempty"`
	MediaType string           `json:"media_type,omitempty"`
	MediaKey  string           `json:"media_key,omitempty"`
	Direction MessageDirection `json:"direction"`
	Status    MessageStatus    `json:"status"`
	SenderID  string           `json:"sender_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type QuickReply struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GatewayState string

const (
	GatewayStateOpen         GatewayState = "open"
	GatewayStateClosed       GatewayState = "closed"
	GatewayStateConnecting   GatewayState = "connecting"
	GatewayStateError        GatewayState = "error"
	GatewayStateDisconnected GatewayState = "disconnected"
)
