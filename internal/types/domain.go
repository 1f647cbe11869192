// Package types defines the shared domain entities, transport envelopes, and
// error taxonomy for the pod engagement pipeline. It has no dependencies on
// other internal packages so that every layer (db, queue, worker, api) can
// share these definitions without import cycles.
package types

import "time"

// EngagementType identifies the kind of action performed against a post.
type EngagementType string

const (
	EngagementLike    EngagementType = "like"
	EngagementComment EngagementType = "comment"
)

// Valid reports whether the engagement type is one of the supported kinds.
func (t EngagementType) Valid() bool {
	return t == EngagementLike || t == EngagementComment
}

// ActivityStatus is the persisted lifecycle state of an engagement activity.
//
// Transitions:
//
//	pending   -> scheduled   (Scheduler, guarded by status='pending')
//	scheduled -> completed   (Executor, guarded by status='scheduled')
//	scheduled -> failed      (Executor, guarded by status='scheduled')
//
// Exactly one terminal transition is ever durably committed per activity;
// the status guard on the conditional update is the sole mechanism that
// makes concurrent double-execution structurally impossible.
type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "pending"
	ActivityScheduled ActivityStatus = "scheduled"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s ActivityStatus) Terminal() bool {
	return s == ActivityCompleted || s == ActivityFailed
}

// EngagementActivity is the central entity of the pipeline: one scheduled
// like or comment action tied to a pod, post, and member. Rows are created
// upstream in 'pending' state; nothing in this core deletes them.
type EngagementActivity struct {
	ID    string `json:"id"`
	PodID string `json:"pod_id"`

	PostID   string `json:"post_id"`
	MemberID string `json:"member_id"`

	// AccountCredentialID is the resolved provider account for the member.
	// May be empty until resolution time; the Executor resolves it via the
	// member_accounts lookup when absent.
	AccountCredentialID string `json:"account_credential_id,omitempty"`

	EngagementType EngagementType `json:"engagement_type"`

	// CommentText is present iff EngagementType is comment.
	CommentText string `json:"comment_text,omitempty"`

	Status       ActivityStatus `json:"status"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`

	// ExecutionAttempts increases monotonically; it is never reset.
	ExecutionAttempts int `json:"execution_attempts"`

	// ExecutionResult holds the latest attempt's structured outcome.
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`

	// LastError is the most recent error message, for quick inspection.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ExecutionResult is the structured record of a single execution attempt.
// Semantically append-only per attempt, but only the latest is retained on
// the activity row.
type ExecutionResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
	ErrorType ErrorCode `json:"error_type,omitempty"`
	Attempt   int       `json:"attempt"`

	// PermanentFailure marks results written after a non-retryable error or
	// attempt exhaustion; such activities also carry a dead-letter record.
	PermanentFailure bool `json:"permanent_failure,omitempty"`
}

// DeadLetterRecord preserves post-mortem data for a permanently failed
// activity. Records are append-only and never replayed automatically.
type DeadLetterRecord struct {
	ID         int64     `json:"id"`
	ActivityID string    `json:"activity_id"`
	Error      string    `json:"error"`
	ErrorType  ErrorCode `json:"error_type"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScheduleSummary is returned by the Scheduler after promoting a batch.
type ScheduleSummary struct {
	ScheduledCount int    `json:"scheduled_count"`
	BatchID        string `json:"batch_id"`
}

// VoiceParams configures the optional comment text transform applied before
// sending a comment to the provider. A nil VoiceParams is the identity
// transform. The transform is pure and therefore safe to re-apply on retry.
type VoiceParams struct {
	// Tone selects a prefix style (e.g. "enthusiastic", "professional").
	Tone string `json:"tone,omitempty"`
	// Emoji, when set, is appended to the comment text.
	Emoji string `json:"emoji,omitempty"`
	// BannedWords maps disallowed words to their replacements.
	BannedWords map[string]string `json:"banned_words,omitempty"`
}
