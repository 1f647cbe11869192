package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"podflow/internal/types"
)

func TestDeadLetterRepository_Create(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeadLetterRepository(db)

	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 7
			*dest[1].(*time.Time) = created
			return nil
		}})

	rec := &types.DeadLetterRecord{
		ActivityID: "act_1",
		Error:      "credential revoked",
		ErrorType:  types.ErrCodeAuthError,
		Attempts:   1,
	}
	err := repo.Create(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	db.AssertExpectations(t)
}

type deadLetterMockRows struct {
	data   []types.DeadLetterRecord
	idx    int
	closed bool
}

func (r *deadLetterMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *deadLetterMockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	*dest[0].(*int64) = row.ID
	*dest[1].(*string) = row.ActivityID
	*dest[2].(*string) = row.Error
	*dest[3].(*string) = string(row.ErrorType)
	*dest[4].(*int) = row.Attempts
	*dest[5].(*time.Time) = row.CreatedAt
	return nil
}

func (r *deadLetterMockRows) Close()                                       { r.closed = true }
func (r *deadLetterMockRows) Err() error                                   { return nil }
func (r *deadLetterMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *deadLetterMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *deadLetterMockRows) RawValues() [][]byte                          { return nil }
func (r *deadLetterMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *deadLetterMockRows) Conn() *pgx.Conn                              { return nil }

func TestDeadLetterRepository_ListRecent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeadLetterRepository(db)

	rows := &deadLetterMockRows{data: []types.DeadLetterRecord{
		{ID: 2, ActivityID: "act_2", Error: "post deleted", ErrorType: types.ErrCodeNotFound, Attempts: 1},
		{ID: 1, ActivityID: "act_1", Error: "timeout", ErrorType: types.ErrCodeTimeout, Attempts: 3},
	}, idx: -1}

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	result, err := repo.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, types.ErrCodeNotFound, result[0].ErrorType)
	assert.Equal(t, 3, result[1].Attempts)
}

func TestMemberAccountRepository_ResolveCredential_NotLinked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMemberAccountRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ResolveCredential(context.Background(), "mem_orphan")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundAccount, types.ClassifyError(err))
}
