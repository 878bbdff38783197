package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm_server/server/chat/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages(chat_id, contact_id, content, media_url, media_type, media_key, direction, status, sender_id)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM chats WHERE chat_id=$1 AND contact_id=$2)
		RETURNING message_id, created_at
	`, message.ChatID, message.ContactID, message.Content, message.MediaURL, message.MediaType,
		message.MediaKey, message.Direction, message.Status, message.SenderID).Scan(&message.ID, &message.CreatedAt)
	return message, err
}

func (r *MessageRepository) Get(ctx context.Context, messageID string) (domain.Message, error) {
	var m domain.Message
	err := r.pool.QueryRow(ctx, `
		SELECT message_id, chat_id, contact_id, content, media_url, media_type, media_key, direction, status, sender_id, created_at
		FROM messages
		WHERE message_id=$1
	`, messageID).Scan(&m.ID, &m.ChatID, &m.ContactID, &m.Content, &m.MediaURL, &m.MediaType,
		&m.MediaKey, &m.Direction, &m.Status, &m.SenderID, &m.CreatedAt)
	return m, err
}

func (r *MessageRepository) UpdateStatus(ctx context.Context, messageID string, status domain.MessageStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET status=$2 WHERE message_id=$1`, messageID, status)
	return err
}

func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, limit int, beforeID *string) ([]domain.Message, error) {
	base := `
		SELECT message_id, chat_id, contact_id, content, media_url, media_type, media_key, direction, status, sender_id, created_at
		FROM messages
		WHERE chat_id=$1`
	args := []any{chatID}

	if beforeID != nil {
		base += ` AND message_id < $2`
		args = append(args, *beforeID)
		base += ` ORDER BY message_id DESC LIMIT $3`
		args = append(args, limit)
	} else {
		base += ` ORDER BY message_id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.ContactID, &m.Content, &m.MediaURL, &m.MediaType,
			&m.MediaKey, &m.Direction, &m.Status, &m.SenderID, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
