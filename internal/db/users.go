package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository tracks known users for scheduled sync bookkeeping.
type UserRepository struct {
	pool *pgxpool.Pool
}

// EnsureUser registers a user id if it is not already known, leaving
// existing rows untouched.
func (r *UserRepository) EnsureUser(ctx context.Context, id string) error {
	query := `INSERT INTO users (id, created_at) VALUES ($1, NOW()) ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// ListUserIDs returns every known user id, oldest last sync first, so
// the scheduler serves the most out-of-date users sooner.
func (r *UserRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users ORDER BY last_synced_at ASC NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("querying user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateLastSync records when the user's live sync last ran.
func (r *UserRepository) UpdateLastSync(ctx context.Context, id string, syncedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_synced_at = $2 WHERE id = $1`, id, syncedAt)
	if err != nil {
		return fmt.Errorf("updating last sync: %w", err)
	}
	return nil
}
