package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"podflow/internal/types"
)

// activityColumns is the canonical column list for engagement_activities.
// Every query in this repository selects exactly these columns in this order;
// the repository is the single mapping layer between column names and struct
// fields.
const activityColumns = `id, pod_id, post_id, member_id, account_credential_id,
	engagement_type, comment_text, status, scheduled_for, executed_at,
	execution_attempts, execution_result, last_error, created_at`

// ActivityRepository provides data access for the engagement_activities table.
// Rows are created upstream in 'pending' state; this repository only advances
// them through the pending -> scheduled -> completed/failed lifecycle and
// never deletes them.
type ActivityRepository struct {
	db DBTX
}

// NewActivityRepository creates a new ActivityRepository backed by the given
// database connection (pool or transaction).
func NewActivityRepository(db DBTX) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// GetByID retrieves a single activity. Returns a not-found AppError when no
// row exists.
func (r *ActivityRepository) GetByID(ctx context.Context, id string) (*types.EngagementActivity, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+activityColumns+`
		 FROM engagement_activities
		 WHERE id = $1`,
		id,
	)

	a, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundActivity, "activity not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get activity", err)
	}
	return a, nil
}

// ListPendingForPod retrieves pending activities for a pod in creation order.
// The kind filter is optional; an empty kind matches both likes and comments.
// Ordering by created_at, id keeps batch promotion deterministic so that the
// scheduler's staggered positions are stable across runs.
func (r *ActivityRepository) ListPendingForPod(ctx context.Context, podID string, kind types.EngagementType, limit int) ([]*types.EngagementActivity, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT ` + activityColumns + `
		 FROM engagement_activities
		 WHERE pod_id = $1 AND status = 'pending'`
	args := []any{podID}

	if kind != "" {
		query += ` AND engagement_type = $2`
		args = append(args, string(kind))
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending activities", err)
	}
	defer rows.Close()

	var results []*types.EngagementActivity
	for rows.Next() {
		a, scanErr := scanActivity(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan activity row", scanErr)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating activity rows", err)
	}

	return results, nil
}

// MarkScheduled transitions an activity from pending to scheduled with the
// computed execution time. The status guard makes concurrent scheduler runs
// safe: only one of them observes rows affected = 1 for a given activity.
// Returns false (no error) when the guard did not match, meaning another run
// already claimed the row or it has moved on in the lifecycle.
func (r *ActivityRepository) MarkScheduled(ctx context.Context, id string, scheduledFor time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE engagement_activities SET
			status = 'scheduled',
			scheduled_for = $1
		 WHERE id = $2 AND status = 'pending'`,
		scheduledFor,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark activity scheduled", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordResult writes a terminal outcome (completed or failed) for an
// activity. The status guard ensures exactly one terminal write ever lands:
// a second writer observes rows affected = 0 and must treat the activity as
// already finalized. Passing a non-terminal status is a programming error.
func (r *ActivityRepository) RecordResult(ctx context.Context, id string, status types.ActivityStatus, result *types.ExecutionResult) (bool, error) {
	if !status.Terminal() {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "RecordResult requires a terminal status", nil)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal execution result", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE engagement_activities SET
			status = $1,
			executed_at = $2,
			execution_attempts = GREATEST(execution_attempts, $3),
			execution_result = $4,
			last_error = $5
		 WHERE id = $6 AND status = 'scheduled'`,
		string(status),
		result.Timestamp,
		result.Attempt,
		resultJSON,
		nilIfEmpty(result.Error),
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record execution result", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAttempt persists a non-terminal attempt outcome (a retryable failure
// that will be re-queued). The activity stays scheduled; only the attempt
// counter, latest result, and last error advance. Rows affected 0 means the
// activity reached a terminal state concurrently, which callers may ignore.
func (r *ActivityRepository) RecordAttempt(ctx context.Context, id string, result *types.ExecutionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal execution result", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE engagement_activities SET
			execution_attempts = GREATEST(execution_attempts, $1),
			execution_result = $2,
			last_error = $3
		 WHERE id = $4 AND status = 'scheduled'`,
		result.Attempt,
		resultJSON,
		nilIfEmpty(result.Error),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record execution attempt", err)
	}
	return nil
}

// StatusCounts returns the number of activities per lifecycle status, used by
// the pipeline statistics endpoint.
func (r *ActivityRepository) StatusCounts(ctx context.Context) (map[types.ActivityStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM engagement_activities GROUP BY status`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count activity statuses", err)
	}
	defer rows.Close()

	counts := make(map[types.ActivityStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count row", err)
		}
		counts[types.ActivityStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status count rows", err)
	}

	return counts, nil
}

// scanActivity scans a single engagement_activities row. Works for both
// pgx.Row and pgx.Rows since both expose Scan. Handles nullable columns using
// pointer types.
func scanActivity(row pgx.Row) (*types.EngagementActivity, error) {
	var (
		a              types.EngagementActivity
		engagementType string
		status         string
		credentialID   *string
		commentText    *string
		lastError      *string
		resultJSON     []byte
	)

	err := row.Scan(
		&a.ID,
		&a.PodID,
		&a.PostID,
		&a.MemberID,
		&credentialID,
		&engagementType,
		&commentText,
		&status,
		&a.ScheduledFor,
		&a.ExecutedAt,
		&a.ExecutionAttempts,
		&resultJSON,
		&lastError,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.EngagementType = types.EngagementType(engagementType)
	a.Status = types.ActivityStatus(status)
	if credentialID != nil {
		a.AccountCredentialID = *credentialID
	}
	if commentText != nil {
		a.CommentText = *commentText
	}
	if lastError != nil {
		a.LastError = *lastError
	}
	if len(resultJSON) > 0 {
		var result types.ExecutionResult
		if err := json.Unmarshal(resultJSON, &result); err == nil {
			a.ExecutionResult = &result
		}
	}

	return &a, nil
}
