package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm_server/server/chat/domain"
)

type QuickReplyRepository struct {
	pool *pgxpool.Pool
}

func NewQuickReplyRepository(pool *pgxpool.Pool) *QuickReplyRepository {
	return &QuickReplyRepository{pool: pool}
}

func (r *QuickReplyRepository) Create(ctx context.Context, item domain.QuickReply) (domain.QuickReply, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO quick_replies(title, body)
		VALUES($1, $2)
		RETURNING quick_reply_id, created_at, updated_at
	`, item.Title, item.Body).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *QuickReplyRepository) Update(ctx context.Context, item domain.QuickReply) (domain.QuickReply, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE quick_replies
		SET title=$2, body=$3, updated_at=now()
		WHERE quick_reply_id=$1
		RETURNING created_at, updated_at
	`, item.ID, item.Title, item.Body).Scan(&item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *QuickReplyRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM quick_replies WHERE quick_reply_id=$1`, id)
	return err
}

func (r *QuickReplyRepository) List(ctx context.Context) ([]domain.QuickReply, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT quick_reply_id, title, body, created_at, updated_at
		FROM quick_replies
		ORDER BY title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.QuickReply, 0)
	for rows.Next() {
		var item domain.QuickReply
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
