package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/models"
)

const addressColumns = `id, user_id, recipient, line1, line2, city, postal_code, country, created_at, deleted_at`

func scanAddress(row rowScanner) (*models.Address, error) {
	a := &models.Address{}
	var deletedAt sql.NullTime

	err := row.Scan(&a.ID, &a.UserID, &a.Recipient, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Country, &a.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Time
	}

	return a, nil
}

func CreateAddress(ctx context.Context, q database.Queryer, a models.Address) (*models.Address, error) {
	query := `
		INSERT INTO addresses (user_id, recipient, line1, line2, city, postal_code, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + addressColumns

	created, err := scanAddress(q.QueryRowContext(ctx, query,
		a.UserID, a.Recipient, a.Line1, a.Line2, a.City, a.PostalCode, a.Country))
	if err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}

	return created, nil
}

// ResolveAddress returns the address even if it was removed from the user's
// address book, so past orders keep showing where they were shipped.
func ResolveAddress(ctx context.Context, q database.Queryer, id int64) (*models.Address, error) {
	a, err := scanAddress(q.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	return a, nil
}

// GetActiveAddress returns an address the user can still ship to.
func GetActiveAddress(ctx context.Context, q database.Queryer, userID, id int64) (*models.Address, error) {
	a, err := scanAddress(q.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}

	return a, nil
}

func SoftDeleteAddress(ctx context.Context, q database.Queryer, userID, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE addresses SET deleted_at = NOW() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("delete address: %w", err)
	}

	return expectOneRow(result, database.ErrAddressNotFound)
}
