package service

import (
	"context"
	"strings"

	"crm_server/server/chat/domain"
	commonlog "crm_server/server/common/log"
)

const webhookEventMessageUpsert = "messages.upsert"

// WebhookEvent is the gateway's inbound notification. Only the message-upsert
// kind carries data we act on.
type WebhookEvent struct {
	Event string           `json:"event"`
	Data  WebhookEventData `json:"data"`
}

type WebhookEventData struct {
	From          string `json:"from"`
	Body          string `json:"body"`
	SenderName    string `json:"senderName,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

type mediaArchiver interface {
	ArchiveMedia(ctx context.Context, chatID, mediaURL, mediaType string) (string, error)
	ArchiveAvatar(ctx context.Context, contactID, pictureURL string) (string, error)
}

// WebhookService ingests gateway events: resolve the contact and its open
// chat, persist the inbound message, broadcast. No internal retry — a
// persistence failure propagates to the HTTP caller and the gateway redelivers
// per its own policy.
type WebhookService struct {
	chat  *ChatService
	media mediaArchiver
}

func NewWebhookService(chat *ChatService, media mediaArchiver) *WebhookService {
	return &WebhookService{chat: chat, media: media}
}

// Handled reports whether the event kind is one we process. Everything else
// is a successful no-op so the gateway never retries ignored kinds.
func (s *WebhookService) Handled(event WebhookEvent) bool {
	return event.Event == webhookEventMessageUpsert
}

func (s *WebhookService) Process(ctx context.Context, event WebhookEvent) (domain.Message, error) {
	if !s.Handled(event) {
		return domain.Message{}, nil
	}

	contact, chat, err := s.chat.ResolveInbound(ctx, event.Data.From, event.Data.SenderName)
	if err != nil {
		return domain.Message{}, err
	}

	if s.media != nil && contact.AvatarKey == "" && strings.TrimSpace(event.Data.ProfilePicURL) != "" {
		if _, err := s.media.ArchiveAvatar(ctx, contact.ID, event.Data.ProfilePicURL); err != nil {
			commonlog.Warnf("event=webhook action=archive_avatar status=failed contact_id=%s error=%v", contact.ID, err)
		}
	}

	mediaKey := ""
	if s.media != nil && strings.TrimSpace(event.Data.MediaURL) != "" {
		key, err := s.media.ArchiveMedia(ctx, chat.ID, event.Data.MediaURL, event.Data.MediaType)
		if err != nil {
			// Archival is best-effort; the message still carries the
			// gateway's media URL.
			commonlog.Warnf("event=webhook action=archive_media status=failed chat_id=%s error=%v", chat.ID, err)
		} else {
			mediaKey = key
		}
	}

	message, err := s.chat.SaveInbound(ctx, chat, event.Data.Body, event.Data.MediaURL, event.Data.MediaType, mediaKey)
	if err != nil {
		return domain.Message{}, err
	}
	commonlog.Infof("event=webhook action=message_upsert status=ok chat_id=%s message_id=%s from=%s", chat.ID, message.ID, contact.PhoneNumber)
	return message, nil
}
