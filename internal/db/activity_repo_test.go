package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"podflow/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// activityMockRows implements pgx.Rows for activity list queries, producing
// the canonical 14-column activity row shape.
type activityMockRows struct {
	data    []activityRowData
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

type activityRowData struct {
	id             string
	podID          string
	postID         string
	memberID       string
	credentialID   *string
	engagementType string
	commentText    *string
	status         string
	scheduledFor   *time.Time
	executedAt     *time.Time
	attempts       int
	resultJSON     []byte
	lastError      *string
	createdAt      time.Time
}

func newActivityMockRows(data []activityRowData) *activityMockRows {
	return &activityMockRows{data: data, idx: -1}
}

func (r *activityMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *activityMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.podID
	*dest[2].(*string) = row.postID
	*dest[3].(*string) = row.memberID
	*dest[4].(**string) = row.credentialID
	*dest[5].(*string) = row.engagementType
	*dest[6].(**string) = row.commentText
	*dest[7].(*string) = row.status
	*dest[8].(**time.Time) = row.scheduledFor
	*dest[9].(**time.Time) = row.executedAt
	*dest[10].(*int) = row.attempts
	*dest[11].(*[]byte) = row.resultJSON
	*dest[12].(**string) = row.lastError
	*dest[13].(*time.Time) = row.createdAt
	return nil
}

func (r *activityMockRows) Close()                                       { r.closed = true }
func (r *activityMockRows) Err() error                                   { return r.errVal }
func (r *activityMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *activityMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *activityMockRows) RawValues() [][]byte                          { return nil }
func (r *activityMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *activityMockRows) Conn() *pgx.Conn                              { return nil }

func strPtr(s string) *string { return &s }

// --- GetByID Tests ---

func TestActivityRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "act_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundActivity, appErr.Code)
	assert.False(t, appErr.Retryable())
}

// --- ListPendingForPod Tests ---

func TestActivityRepository_ListPendingForPod(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := newActivityMockRows([]activityRowData{
		{
			id:             "act_1",
			podID:          "pod_1",
			postID:         "post_a",
			memberID:       "mem_1",
			engagementType: "like",
			status:         "pending",
			createdAt:      created,
		},
		{
			id:             "act_2",
			podID:          "pod_1",
			postID:         "post_a",
			memberID:       "mem_2",
			credentialID:   strPtr("cred_2"),
			engagementType: "comment",
			commentText:    strPtr("great post"),
			status:         "pending",
			createdAt:      created.Add(time.Minute),
		},
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	result, err := repo.ListPendingForPod(context.Background(), "pod_1", "", 100)
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, "act_1", result[0].ID)
	assert.Equal(t, types.EngagementLike, result[0].EngagementType)
	assert.Empty(t, result[0].AccountCredentialID)

	assert.Equal(t, "act_2", result[1].ID)
	assert.Equal(t, types.EngagementComment, result[1].EngagementType)
	assert.Equal(t, "cred_2", result[1].AccountCredentialID)
	assert.Equal(t, "great post", result[1].CommentText)

	db.AssertExpectations(t)
}

func TestActivityRepository_ListPendingForPod_KindFilter(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "engagement_type") && strings.Contains(sql, "status = 'pending'")
	}), mock.Anything).Return(newActivityMockRows(nil), nil)

	result, err := repo.ListPendingForPod(context.Background(), "pod_1", types.EngagementComment, 10)
	require.NoError(t, err)
	assert.Empty(t, result)
	db.AssertExpectations(t)
}

// --- MarkScheduled Tests ---

func TestActivityRepository_MarkScheduled_ClaimsPendingRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	when := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	claimed, err := repo.MarkScheduled(context.Background(), "act_1", when)
	require.NoError(t, err)
	assert.True(t, claimed)
	db.AssertExpectations(t)
}

func TestActivityRepository_MarkScheduled_GuardLost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	// Another scheduler run already moved the row out of pending.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	claimed, err := repo.MarkScheduled(context.Background(), "act_1", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

// --- RecordResult Tests ---

func TestActivityRepository_RecordResult_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	var captured []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	result := &types.ExecutionResult{
		Success:   true,
		Timestamp: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Attempt:   1,
	}
	written, err := repo.RecordResult(context.Background(), "act_1", types.ActivityCompleted, result)
	require.NoError(t, err)
	assert.True(t, written)

	require.Len(t, captured, 6)
	assert.Equal(t, "completed", captured[0])

	var stored types.ExecutionResult
	require.NoError(t, json.Unmarshal(captured[3].([]byte), &stored))
	assert.True(t, stored.Success)
	assert.Equal(t, 1, stored.Attempt)
}

func TestActivityRepository_RecordResult_CASLost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	// A concurrent worker already wrote the terminal state.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	result := &types.ExecutionResult{Success: true, Timestamp: time.Now(), Attempt: 1}
	written, err := repo.RecordResult(context.Background(), "act_1", types.ActivityCompleted, result)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestActivityRepository_RecordResult_RejectsNonTerminalStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	result := &types.ExecutionResult{Success: false, Timestamp: time.Now(), Attempt: 1}
	_, err := repo.RecordResult(context.Background(), "act_1", types.ActivityScheduled, result)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

// --- StatusCounts Tests ---

type statusCountRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *statusCountRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *statusCountRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*int) = row[1].(int)
	return nil
}

func (r *statusCountRows) Close()                                       { r.closed = true }
func (r *statusCountRows) Err() error                                   { return nil }
func (r *statusCountRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *statusCountRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *statusCountRows) RawValues() [][]byte                          { return nil }
func (r *statusCountRows) Values() ([]any, error)                       { return nil, nil }
func (r *statusCountRows) Conn() *pgx.Conn                              { return nil }

func TestActivityRepository_StatusCounts(t *testing.T) {
	db := new(mockDBTX)
	repo := NewActivityRepository(db)

	rows := &statusCountRows{data: [][]any{
		{"pending", 12},
		{"scheduled", 5},
		{"completed", 40},
		{"failed", 3},
	}, idx: -1}

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	counts, err := repo.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts[types.ActivityPending])
	assert.Equal(t, 5, counts[types.ActivityScheduled])
	assert.Equal(t, 40, counts[types.ActivityCompleted])
	assert.Equal(t, 3, counts[types.ActivityFailed])
}
