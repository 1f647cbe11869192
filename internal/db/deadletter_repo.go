package db

import (
	"context"

	"podflow/internal/types"
)

// DeadLetterRepository provides append-only data access for the
// engagement_dead_letters table. Records preserve post-mortem data for
// permanently failed activities; nothing in the pipeline replays them
// automatically.
type DeadLetterRepository struct {
	db DBTX
}

// NewDeadLetterRepository creates a new DeadLetterRepository backed by the
// given database connection (pool or transaction).
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Create inserts a dead-letter record. The database assigns the ID and
// creation timestamp, written back into the record on success.
func (r *DeadLetterRepository) Create(ctx context.Context, rec *types.DeadLetterRecord) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO engagement_dead_letters
		 (activity_id, error, error_type, attempts)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		rec.ActivityID,
		rec.Error,
		string(rec.ErrorType),
		rec.Attempts,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create dead letter record", err)
	}
	return nil
}

// ListRecent retrieves the most recent dead-letter records for operator
// inspection, newest first.
func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]*types.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, activity_id, error, error_type, attempts, created_at
		 FROM engagement_dead_letters
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dead letter records", err)
	}
	defer rows.Close()

	var results []*types.DeadLetterRecord
	for rows.Next() {
		var rec types.DeadLetterRecord
		var errorType string
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.Error, &errorType, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dead letter row", err)
		}
		rec.ErrorType = types.ErrorCode(errorType)
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dead letter rows", err)
	}

	return results, nil
}
