package service

import (
	"context"
	"errors"
	"strings"

	"crm_server/server/chat/domain"
	commonlog "crm_server/server/common/log"
)

type contactStore interface {
	FindByPhone(ctx context.Context, phoneNumber string) (domain.Contact, bool, error)
	Create(ctx context.Context, contact domain.Contact) (domain.Contact, error)
	UpdateProfile(ctx context.Context, contactID, name, avatarKey string) error
	Get(ctx context.Context, contactID string) (domain.Contact, error)
}

type chatStore interface {
	FindOrCreateOpen(ctx context.Context, contactID string) (domain.Chat, error)
	Get(ctx context.Context, chatID string) (domain.Chat, error)
	SetArchived(ctx context.Context, chatID string, archived bool) error
	SetLastMessage(ctx context.Context, chatID, messageID string) error
	List(ctx context.Context, includeArchived bool, limit int) ([]domain.ChatSummary, error)
}

type messageStore interface {
	Create(ctx context.Context, message domain.Message) (domain.Message, error)
	Get(ctx context.Context, messageID string) (domain.Message, error)
	UpdateStatus(ctx context.Context, messageID string, status domain.MessageStatus) error
	ListByChat(ctx context.Context, chatID string, limit int, beforeID *string) ([]domain.Message, error)
}

type quickReplyStore interface {
	Create(ctx context.Context, item domain.QuickReply) (domain.QuickReply, error)
	Update(ctx context.Context, item domain.QuickReply) (domain.QuickReply, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.QuickReply, error)
}

type outboundDeliverer interface {
	EnqueueText(ctx context.Context, to, message, messageID string) (string, error)
	EnqueueMedia(ctx context.Context, to, mediaURL, caption, mediaType, messageID string) (string, error)
}

// ChatService owns contact/chat/message resolution and the
// persist-then-broadcast ordering: nothing is ever emitted to a room before
// the referenced message exists in the store.
type ChatService struct {
	contacts     contactStore
	chats        chatStore
	messages     messageStore
	quickReplies quickReplyStore
	hub          *Hub
	deliverer    outboundDeliverer
}

func NewChatService(contacts contactStore, chats chatStore, messages messageStore, quickReplies quickReplyStore, hub *Hub, deliverer outboundDeliverer) *ChatService {
	return &ChatService{
		contacts:     contacts,
		chats:        chats,
		messages:     messages,
		quickReplies: quickReplies,
		hub:          hub,
		deliverer:    deliverer,
	}
}

// ResolveInbound maps a sender address onto its contact and the single open
// chat, creating both on first sight. The address doubles as the provisional
// display name for unseen senders.
func (s *ChatService) ResolveInbound(ctx context.Context, phoneNumber, senderName string) (domain.Contact, domain.Chat, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return domain.Contact{}, domain.Chat{}, errors.New("sender address is required")
	}

	contact, found, err := s.contacts.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return domain.Contact{}, domain.Chat{}, err
	}
	if !found {
		name := strings.TrimSpace(senderName)
		if name == "" {
			name = phoneNumber
		}
		contact, err = s.contacts.Create(ctx, domain.Contact{PhoneNumber: phoneNumber, Name: name})
		if err != nil {
			return domain.Contact{}, domain.Chat{}, err
		}
	} else if name := strings.TrimSpace(senderName); name != "" && name != contact.Name {
		if err := s.contacts.UpdateProfile(ctx, contact.ID, name, ""); err != nil {
			commonlog.Warnf("event=chat_contact action=update_name status=failed contact_id=%s error=%v", contact.ID, err)
		} else {
			contact.Name = name
		}
	}

	chat, err := s.chats.FindOrCreateOpen(ctx, contact.ID)
	if err != nil {
		return domain.Contact{}, domain.Chat{}, err
	}
	return contact, chat, nil
}

// SaveInbound persists an inbound message and broadcasts it to the chat room.
func (s *ChatService) SaveInbound(ctx context.Context, chat domain.Chat, content, mediaURL, mediaType, mediaKey string) (domain.Message, error) {
	message, err := s.messages.Create(ctx, domain.Message{
		ChatID:    chat.ID,
		ContactID: chat.ContactID,
		Content:   content,
		MediaURL:  mediaURL,
		MediaType: mediaType,
		MediaKey:  mediaKey,
		Direction: domain.DirectionInbound,
		Status:    domain.StatusDelivered,
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.chats.SetLastMessage(ctx, chat.ID, message.ID); err != nil {
		commonlog.Warnf("event=chat_message action=set_last_message status=failed chat_id=%s message_id=%s error=%v", chat.ID, message.ID, err)
	}
	s.hub.EmitToChat(chat.ID, domain.EventNewMessage, message)
	return message, nil
}

// SaveOutbound persists an operator message and broadcasts it. Gateway
// delivery is the caller's concern; the socket path enqueues it via
// SendFromOperator, the REST fallback path has already called the gateway.
func (s *ChatService) SaveOutbound(ctx context.Context, chatID, senderID, content, mediaURL, mediaType string) (domain.Message, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	message, err := s.messages.Create(ctx, domain.Message{
		ChatID:    chat.ID,
		ContactID: chat.ContactID,
		Content:   content,
		MediaURL:  mediaURL,
		MediaType: mediaType,
		Direction: domain.DirectionOutbound,
		Status:    domain.StatusSent,
		SenderID:  senderID,
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.chats.SetLastMessage(ctx, chat.ID, message.ID); err != nil {
		commonlog.Warnf("event=chat_message action=set_last_message status=failed chat_id=%s message_id=%s error=%v", chat.ID, message.ID, err)
	}
	s.hub.EmitToChat(chat.ID, domain.EventNewMessage, message)
	return message, nil
}

// SendFromOperator is the socket send path: persist, broadcast, then queue
// gateway delivery for the contact's address.
func (s *ChatService) SendFromOperator(ctx context.Context, chatID, senderID, content, mediaURL, mediaType string) (domain.Message, error) {
	message, err := s.SaveOutbound(ctx, chatID, senderID, content, mediaURL, mediaType)
	if err != nil {
		return domain.Message{}, err
	}
	contact, err := s.contacts.Get(ctx, message.ContactID)
	if err != nil {
		return domain.Message{}, err
	}
	if s.deliverer != nil {
		if mediaURL != "" {
			_, err = s.deliverer.EnqueueMedia(ctx, contact.PhoneNumber, mediaURL, content, mediaType, message.ID)
		} else {
			_, err = s.deliverer.EnqueueText(ctx, contact.PhoneNumber, content, message.ID)
		}
		if err != nil {
			commonlog.Errorf("event=chat_message action=enqueue_delivery status=failed message_id=%s error=%v", message.ID, err)
		}
	}
	return message, nil
}

// RecordDeliveryResult applies a terminal queue outcome to the message and
// notifies the chat room.
func (s *ChatService) RecordDeliveryResult(ctx context.Context, messageID string, status domain.MessageStatus) {
	if messageID == "" {
		return
	}
	if err := s.messages.UpdateStatus(ctx, messageID, status); err != nil {
		commonlog.Errorf("event=chat_message action=update_status status=failed message_id=%s error=%v", messageID, err)
		return
	}
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return
	}
	s.hub.EmitToChat(message.ChatID, domain.EventMessageStatus, domain.MessageStatusPayload{MessageID: messageID, Status: status})
}

func (s *ChatService) ListChats(ctx context.Context, includeArchived bool, limit int) ([]domain.ChatSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.chats.List(ctx, includeArchived, limit)
}

func (s *ChatService) ListMessages(ctx context.Context, chatID string, limit int, beforeID *string) ([]domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.messages.ListByChat(ctx, chatID, limit, beforeID)
}

func (s *ChatService) SetChatArchived(ctx context.Context, chatID string, archived bool) error {
	return s.chats.SetArchived(ctx, chatID, archived)
}

func (s *ChatService) CreateQuickReply(ctx context.Context, title, body string) (domain.QuickReply, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return domain.QuickReply{}, errors.New("title and body are required")
	}
	return s.quickReplies.Create(ctx, domain.QuickReply{Title: title, Body: body})
}

func (s *ChatService) UpdateQuickReply(ctx context.Context, id, title, body string) (domain.QuickReply, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return domain.QuickReply{}, errors.New("title and body are required")
	}
	return s.quickReplies.Update(ctx, domain.QuickReply{ID: id, Title: title, Body: body})
}

func (s *ChatService) DeleteQuickReply(ctx context.Context, id string) error {
	return s.quickReplies.Delete(ctx, id)
}

func (s *ChatService) ListQuickReplies(ctx context.Context) ([]domain.QuickReply, error) {
	return s.quickReplies.List(ctx)
}
