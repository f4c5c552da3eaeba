package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"qrfare/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrUserNotFound = errors.New("user not found")

// GetUserByPhone returns the user registered with phone.
func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, phone, name, email, created_at FROM users WHERE phone = $1`, strings.TrimSpace(phone))
	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return out, nil
}

// RegisterUser returns the user owning params.Phone, creating it first when
// the phone is unknown. Existing name and email are only filled, never
// overwritten. created reports whether a new row was inserted.
func (r *Repository) RegisterUser(ctx context.Context, params models.RegisterUserParams) (models.User, bool, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO users (phone, name, email)
VALUES ($1, $2, $3)
ON CONFLICT (phone) DO UPDATE SET
	name = COALESCE(users.name, EXCLUDED.name),
	email = COALESCE(users.email, EXCLUDED.email)
RETURNING id, phone, name, email, created_at, (xmax = 0) AS inserted;`,
		strings.TrimSpace(params.Phone),
		nullString(strings.TrimSpace(params.Name)),
		nullString(strings.TrimSpace(params.Email)),
	)

	var out models.User
	var name sql.NullString
	var email sql.NullString
	var inserted bool
	if err := row.Scan(&out.ID, &out.Phone, &name, &email, &out.CreatedAt, &inserted); err != nil {
		return models.User{}, false, err
	}
	out.Name = name.String
	out.Email = email.String
	return out, inserted, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var out models.User
	var name sql.NullString
	var email sql.NullString
	if err := row.Scan(&out.ID, &out.Phone, &name, &email, &out.CreatedAt); err != nil {
		return out, err
	}
	out.Name = name.String
	out.Email = email.String
	return out, nil
}
