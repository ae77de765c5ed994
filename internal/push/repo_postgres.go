package push

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"peersupport-platform/pkg/utils"
)

// NOTE: PostgresRepo assumes the following table exists:
//
//	push_devices (id, user_id, token, platform, created_at)
//	             UNIQUE (user_id, token)
//
// The unique constraint makes Register idempotent under concurrent
// registration of the same endpoint.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Register(ctx context.Context, cand Device) (Device, error) {
	const ins = `
INSERT INTO push_devices (id, user_id, token, platform, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := r.db.ExecContext(ctx, ins, cand.ID, cand.UserID, cand.Token, cand.Platform, cand.CreatedAt)
	if err == nil {
		return cand, nil
	}
	if utils.IsUniqueViolation(err) {
		return r.findByToken(ctx, cand.UserID, cand.Token)
	}
	return Device{}, fmt.Errorf("insert device: %w", err)
}

func (r *PostgresRepo) findByToken(ctx context.Context, userID, token string) (Device, error) {
	const q = `
SELECT id, user_id, token, platform, created_at
FROM push_devices
WHERE user_id = $1 AND token = $2
`
	var d Device
	if err := r.db.QueryRowContext(ctx, q, userID, token).Scan(
		&d.ID,
		&d.UserID,
		&d.Token,
		&d.Platform,
		&d.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrNotRegistered
		}
		return Device{}, err
	}
	return d, nil
}

func (r *PostgresRepo) Remove(ctx context.Context, userID, token string) error {
	const q = `
DELETE FROM push_devices
WHERE user_id = $1 AND token = $2
`
	res, err := r.db.ExecContext(ctx, q, userID, token)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotRegistered
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	const q = `
SELECT id, user_id, token, platform, created_at
FROM push_devices
WHERE user_id = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Token, &d.Platform, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ DeviceRepository = (*PostgresRepo)(nil)
