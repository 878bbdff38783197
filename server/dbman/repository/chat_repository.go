package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm_server/server/chat/domain"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// FindOrCreateOpen returns the single non-archived chat for a contact,
// creating it when absent. Relies on the partial unique index on
// chats(contact_id) WHERE archived = false.
func (r *ChatRepository) FindOrCreateOpen(ctx context.Context, contactID string) (domain.Chat, error) {
	var chat domain.Chat
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chats(contact_id)
		VALUES($1)
		ON CONFLICT (contact_id) WHERE archived = false
		DO UPDATE SET contact_id=EXCLUDED.contact_id
		RETURNING chat_id, contact_id, archived, last_message_id, last_message_at, created_at
	`, contactID).Scan(&chat.ID, &chat.ContactID, &chat.Archived, &chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt)
	return chat, err
}

func (r *ChatRepository) Get(ctx context.Context, chatID string) (domain.Chat, error) {
	var chat domain.Chat
	err := r.pool.QueryRow(ctx, `
		SELECT chat_id, contact_id, archived, last_message_id, last_message_at, created_at
		FROM chats
		WHERE chat_id=$1
	`, chatID).Scan(&chat.ID, &chat.ContactID, &chat.Archived, &chat.LastMessageID, &chat.LastMessageAt, &chat.CreatedAt)
	return chat, err
}

func (r *ChatRepository) SetArchived(ctx context.Context, chatID string, archived bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE chats SET archived=$2 WHERE chat_id=$1`, chatID, archived)
	return err
}

func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	// The message must belong to the chat; the WHERE clause keeps the
	// last-message pointer from ever referencing a foreign message.
	_, err := r.pool.Exec(ctx, `
		UPDATE chats
		SET last_message_id=$2,
		    last_message_at=(SELECT created_at FROM messages WHERE message_id=$2 AND chat_id=$1)
		WHERE chat_id=$1
		  AND EXISTS (SELECT 1 FROM messages WHERE message_id=$2 AND chat_id=$1)
	`, chatID, messageID)
	return err
}

func (r *ChatRepository) List(ctx context.Context, includeArchived bool, limit int) ([]domain.ChatSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.chat_id, c.contact_id, c.archived, c.last_message_id, c.last_message_at, c.created_at,
		       ct.phone_number, ct.name, m.content
		FROM chats c
		JOIN contacts ct ON ct.contact_id = c.contact_id
		LEFT JOIN messages m ON m.message_id = c.last_message_id
		WHERE ($1 OR c.archived = false)
		ORDER BY c.last_message_at DESC NULLS LAST
		LIMIT $2
	`, includeArchived, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ChatSummary, 0)
	for rows.Next() {
		var item domain.ChatSummary
		if err := rows.Scan(&item.ID, &item.ContactID, &item.Archived, &item.LastMessageID, &item.LastMessageAt,
			&item.CreatedAt, &item.ContactPhone, &item.ContactName, &item.LastMessageBody); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
