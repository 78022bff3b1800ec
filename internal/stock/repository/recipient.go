package repository

import (
	"context"

	"github.com/lib/pq"
	"github.com/stockflow/stockflow-backend/pkg/database"
)

// RecipientRepository keeps the local copy of users who may be notified
type RecipientRepository struct {
	db *database.DB
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db *database.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Set creates or updates a cached recipient
func (r *RecipientRepository) Set(ctx context.Context, rcpt *Recipient) error {
	query := `
		INSERT INTO stock_recipient (user_id, first_name, last_name, email, role_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET first_name = $2, last_name = $3, email = $4, role_name = $5, updated_at = NOW()
	`

	_, err := r.db.Querier(ctx).ExecContext(ctx, query, rcpt.UserID, rcpt.FirstName, rcpt.LastName, rcpt.Email, rcpt.RoleName)
	return err
}

// Get gets a cached recipient by user ID
func (r *RecipientRepository) Get(ctx context.Context, userID string) (*Recipient, error) {
	var rcpt Recipient
	query := `SELECT user_id, first_name, last_name, email, role_name FROM stock_recipient WHERE user_id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &rcpt, query, userID); err != nil {
		return nil, notFound(err, "recipient")
	}
	return &rcpt, nil
}

// UpdateRole changes the role of a cached recipient. Unknown users are ignored.
func (r *RecipientRepository) UpdateRole(ctx context.Context, userID, roleName string) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx,
		`UPDATE stock_recipient SET role_name = $2, updated_at = NOW() WHERE user_id = $1`, userID, roleName)
	return err
}

// Delete removes a cached recipient
func (r *RecipientRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx, `DELETE FROM stock_recipient WHERE user_id = $1`, userID)
	return err
}

// ListByRoles returns the recipients holding any of the given roles
func (r *RecipientRepository) ListByRoles(ctx context.Context, roles []string) ([]*Recipient, error) {
	var recipients []*Recipient
	if len(roles) == 0 {
		return recipients, nil
	}

	query := `
		SELECT user_id, first_name, last_name, email, role_name
		FROM stock_recipient
		WHERE role_name = ANY($1)
		ORDER BY user_id
	`
	if err := r.db.Querier(ctx).SelectContext(ctx, &recipients, query, pq.Array(roles)); err != nil {
		return nil, err
	}
	return recipients, nil
}
