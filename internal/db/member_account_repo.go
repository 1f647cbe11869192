package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"podflow/internal/types"
)

// MemberAccountRepository resolves member IDs to provider account credential
// IDs via the member_accounts table. The table is owned by the account
// onboarding flow; this pipeline reads it only when an activity row arrives
// without a resolved credential.
type MemberAccountRepository struct {
	db DBTX
}

// NewMemberAccountRepository creates a new MemberAccountRepository backed by
// the given database connection (pool or transaction).
func NewMemberAccountRepository(db DBTX) *MemberAccountRepository {
	return &MemberAccountRepository{db: db}
}

// ResolveCredential returns the account credential ID for a member. Returns a
// not-found AppError (non-retryable) when the member has no linked account;
// executing an engagement without a credential can never succeed.
func (r *MemberAccountRepository) ResolveCredential(ctx context.Context, memberID string) (string, error) {
	var credentialID string
	err := r.db.QueryRow(ctx,
		`SELECT account_credential_id FROM member_accounts WHERE member_id = $1`,
		memberID,
	).Scan(&credentialID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundAccount, "no account credential linked for member", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve account credential", err)
	}
	return credentialID, nil
}
