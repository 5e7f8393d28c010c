package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalter/playtrace/internal/stats"
)

// AggregationRepository handles stored aggregate view operations.
type AggregationRepository struct {
	pool *pgxpool.Pool
}

// ReplaceAggregations replaces every stored aggregation for a user with
// the freshly computed set. The delete and inserts run in one
// transaction, so readers see either the old set or the new set — never
// a half-old/half-new mix.
func (r *AggregationRepository) ReplaceAggregations(ctx context.Context, userID string, aggs []stats.Aggregation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning aggregation replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM aggregations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("deleting prior aggregations: %w", err)
	}

	query := `
		INSERT INTO aggregations (user_id, kind, grouping, payload, computed_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	for _, agg := range aggs {
		payload, err := json.Marshal(agg.Payload)
		if err != nil {
			return fmt.Errorf("marshaling %s aggregation: %w", agg.Kind, err)
		}
		if _, err := tx.Exec(ctx, query, userID, string(agg.Kind), string(agg.Grouping), payload); err != nil {
			return fmt.Errorf("inserting %s aggregation: %w", agg.Kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing aggregation replace: %w", err)
	}
	return nil
}

// GetAggregation returns the stored payload for one (user, kind,
// grouping), or ErrNotFound when nothing has been computed yet.
func (r *AggregationRepository) GetAggregation(ctx context.Context, userID string, kind stats.Kind, grouping stats.Grouping) (json.RawMessage, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM aggregations WHERE user_id = $1 AND kind = $2 AND grouping = $3`,
		userID, string(kind), string(grouping)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying aggregation: %w", err)
	}
	return payload, nil
}
