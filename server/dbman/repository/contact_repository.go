package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_server/server/chat/domain"
)

type ContactRepository struct {
	pool *pgxpool.Pool
}

func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

func (r *ContactRepository) FindByPhone(ctx context.Context, phoneNumber string) (domain.Contact, bool, error) {
	var c domain.Contact
	err := r.pool.QueryRow(ctx, `
		SELECT contact_id, phone_number, name, avatar_key, created_at, updated_at
		FROM contacts
		WHERE phone_number=$1
	`, phoneNumber).Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.AvatarKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contact{}, false, nil
		}
		return domain.Contact{}, false, err
	}
	return c, true, nil
}

func (r *ContactRepository) Create(ctx context.Context, contact domain.Contact) (domain.Contact, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO contacts(phone_number, name, avatar_key)
		VALUES($1, $2, $3)
		ON CONFLICT (phone_number) DO UPDATE SET phone_number=EXCLUDED.phone_number
		RETURNING contact_id, created_at, updated_at
	`, contact.PhoneNumber, contact.Name, contact.AvatarKey).Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
	return contact, err
}

func (r *ContactRepository) UpdateProfile(ctx context.Context, contactID, name, avatarKey string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET name=COALESCE(NULLIF($2, ''), name),
		    avatar_key=COALESCE(NULLIF($3, ''), avatar_key),
		    updated_at=now()
		WHERE contact_id=$1
	`, contactID, name, avatarKey)
	return err
}

func (r *ContactRepository) Get(ctx context.Context, contactID string) (domain.Contact, error) {
	var c domain.Contact
	err := r.pool.QueryRow(ctx, `
		SELECT contact_id, phone_number, name, avatar_key, created_at, updated_at
		FROM contacts
		WHERE contact_id=$1
	`, contactID).Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.AvatarKey, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
