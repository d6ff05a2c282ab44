package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relayline/relayline/internal/database/models"
)

// contactRepo implements ContactRepository.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// GetByNormalizedPhone returns the first contact whose normalized phone
// matches. Used by the ledger to auto-link calls to contacts.
func (r *contactRepo) GetByNormalizedPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone, normalized_phone, account_id, owner_id, created_at
		 FROM contacts WHERE normalized_phone = ? ORDER BY id LIMIT 1`, phone,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.NormalizedPhone, &c.AccountID, &c.OwnerID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact by phone: %w", err)
	}
	return &c, nil
}

// Create inserts a new contact.
func (r *contactRepo) Create(ctx context.Context, c *models.Contact) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (name, phone, normalized_phone, account_id, owner_id)
		 VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.Phone, c.NormalizedPhone, c.AccountID, c.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}
