// Package worker consumes engagement jobs from SQS and executes them against
// the provider with bounded concurrency. The executor implements the
// activity state machine; the pool owns message lifecycle and visibility.
package worker

import (
	"context"
	"log/slog"
	"time"

	"podflow/internal/config"
	"podflow/internal/ratelimit"
	"podflow/internal/types"
)

// Deferral delays for rate limiter denials. Denied jobs are re-queued with
// the same attempt number; waiting out a budget is not a failed attempt.
const (
	cooldownDeferral = 15 * time.Minute
	dailyCapDeferral = time.Hour
)

// ActivityStore is the subset of the activity repository the executor needs.
type ActivityStore interface {
	GetByID(ctx context.Context, id string) (*types.EngagementActivity, error)
	RecordResult(ctx context.Context, id string, status types.ActivityStatus, result *types.ExecutionResult) (bool, error)
	RecordAttempt(ctx context.Context, id string, result *types.ExecutionResult) error
}

// CredentialResolver maps a member to a provider account credential.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, memberID string) (string, error)
}

// DeadLetterSink records permanently failed activities.
type DeadLetterSink interface {
	Create(ctx context.Context, rec *types.DeadLetterRecord) error
}

// RateLimiter guards per-account action budgets.
type RateLimiter interface {
	Allow(ctx context.Context, accountID string) (bool, string)
	IncrementDaily(ctx context.Context, accountID string) error
	SetCooldown(ctx context.Context, accountID string) error
}

// ActionClient performs engagement actions against the provider.
type ActionClient interface {
	Like(ctx context.Context, postID, accountID string) error
	Comment(ctx context.Context, postID, accountID, text string) error
}

// JobPublisher re-queues jobs for deferral and retry.
type JobPublisher interface {
	Publish(ctx context.Context, msg types.EngagementJobMessage, delay time.Duration) error
	PublishRetry(ctx context.Context, msg types.EngagementJobMessage, delay time.Duration) error
}

// VoiceTransform rewrites comment text before sending. provider.ApplyVoice
// satisfies this; it is injected so tests can observe the applied text.
type VoiceTransform func(text string, p *types.VoiceParams) string

// Executor processes one engagement job end to end. A nil return from
// Execute means the message is fully handled and must be deleted from the
// queue; retries and deferrals are re-published as fresh delayed messages
// before Execute returns. A non-nil return means infrastructure failed
// mid-flight and SQS redelivery should run the job again.
//
// Terminal writes go through a status-guarded conditional update, so a
// redelivered or concurrently processed job can never double-execute a
// finalized activity: it loses the guard and becomes a no-op.
type Executor struct {
	store       ActivityStore
	credentials CredentialResolver
	deadLetters DeadLetterSink
	limiter     RateLimiter
	client      ActionClient
	publisher   JobPublisher
	voice       VoiceTransform
	policy      RetryPolicy
	metrics     EngagementMetrics
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time // injectable clock for tests
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(
	store ActivityStore,
	credentials CredentialResolver,
	deadLetters DeadLetterSink,
	limiter RateLimiter,
	client ActionClient,
	publisher JobPublisher,
	voice VoiceTransform,
	policy RetryPolicy,
	metrics EngagementMetrics,
	providerCfg config.ProviderConfig,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		store:       store,
		credentials: credentials,
		deadLetters: deadLetters,
		limiter:     limiter,
		client:      client,
		publisher:   publisher,
		voice:       voice,
		policy:      policy,
		metrics:     metrics,
		timeout:     providerCfg.Timeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs the state machine for one job delivery.
func (e *Executor) Execute(ctx context.Context, msg types.EngagementJobMessage) error {
	log := e.logger.With(
		"activity_id", msg.ActivityID,
		"pod_id", msg.PodID,
		"engagement_type", string(msg.EngagementType),
		"attempt", msg.Attempt,
		"trace_id", msg.TraceID,
	)
	ctx = types.WithTraceID(types.WithLogger(ctx, log), msg.TraceID)

	// Load the activity. A missing row means the job outlived its data;
	// there is nothing to execute and nothing to retry.
	activity, err := e.store.GetByID(ctx, msg.ActivityID)
	if err != nil {
		if types.ClassifyError(err) == types.ErrCodeNotFoundActivity {
			log.WarnContext(ctx, "job references missing activity, dropping")
			e.metrics.RecordOutcome(ctx, msg.EngagementType, "noop")
			return nil
		}
		// Database unavailable: leave the message for redelivery.
		return err
	}

	// Early delivery: SQS clamps DelaySeconds at 15 minutes, so long
	// staggers arrive before their time. Re-queue with the remaining delay;
	// no attempt is consumed.
	if remaining := e.notReadyFor(activity); remaining > 0 {
		log.DebugContext(ctx, "activity not yet due, re-queueing", "remaining", remaining.String())
		return e.publisher.Publish(ctx, msg, remaining)
	}

	// Duplicate delivery: the activity already reached a terminal state (or
	// was never promoted). Ack without executing.
	if activity.Status != types.ActivityScheduled {
		log.InfoContext(ctx, "activity not in scheduled state, skipping",
			"status", string(activity.Status))
		e.metrics.RecordOutcome(ctx, msg.EngagementType, "noop")
		return nil
	}

	// Resolve the acting credential.
	accountID := activity.AccountCredentialID
	if accountID == "" {
		accountID, err = e.credentials.ResolveCredential(ctx, activity.MemberID)
		if err != nil {
			if types.ClassifyError(err).Retryable() {
				return err
			}
			// No linked account: permanent failure.
			return e.finalizeFailure(ctx, msg, activity, err)
		}
	}

	// Check the account's action budget. A denial is a deferral, not a
	// failure: the job is re-queued with the same attempt number.
	if allowed, reason := e.limiter.Allow(ctx, accountID); !allowed {
		delay := cooldownDeferral
		if reason == ratelimit.ReasonDailyCap {
			delay = dailyCapDeferral
		}
		log.InfoContext(ctx, "account over budget, deferring",
			"account_id", accountID, "reason", reason, "delay", delay.String())
		e.metrics.RecordOutcome(ctx, msg.EngagementType, "deferred")
		return e.publisher.Publish(ctx, msg, delay)
	}

	// Perform the provider action under its own timeout.
	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	started := e.now()
	err = e.performAction(actionCtx, activity, msg.Voice, accountID)
	cancel()
	e.metrics.RecordProviderLatency(ctx, msg.EngagementType, e.now().Sub(started))

	if err == nil {
		return e.finalizeSuccess(ctx, msg, accountID)
	}

	code := types.ClassifyError(err)
	log.WarnContext(ctx, "provider action failed",
		"error", err, "error_type", string(code), "retryable", code.Retryable())

	// A provider throttle pauses the account for subsequent jobs.
	if code == types.ErrCodeRateLimit {
		if cdErr := e.limiter.SetCooldown(ctx, accountID); cdErr != nil {
			log.WarnContext(ctx, "failed to set account cooldown", "error", cdErr)
		}
	}

	if !code.Retryable() || e.policy.Exhausted(msg.Attempt) {
		return e.finalizeFailure(ctx, msg, activity, err)
	}
	return e.scheduleRetry(ctx, msg, err)
}

// notReadyFor returns how long until the activity is due, or zero when it is
// executable now.
func (e *Executor) notReadyFor(activity *types.EngagementActivity) time.Duration {
	if activity.ScheduledFor == nil {
		return 0
	}
	if remaining := activity.ScheduledFor.Sub(e.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// performAction dispatches to the provider client, applying the voice
// transform to comment text.
func (e *Executor) performAction(ctx context.Context, activity *types.EngagementActivity, voice *types.VoiceParams, accountID string) error {
	switch activity.EngagementType {
	case types.EngagementComment:
		text := activity.CommentText
		if e.voice != nil {
			text = e.voice(text, voice)
		}
		return e.client.Comment(ctx, activity.PostID, accountID, text)
	default:
		return e.client.Like(ctx, activity.PostID, accountID)
	}
}

// finalizeSuccess consumes budget and writes the completed terminal state.
// Losing the status guard means a concurrent delivery already finalized the
// activity; the duplicate work is discarded as a no-op.
func (e *Executor) finalizeSuccess(ctx context.Context, msg types.EngagementJobMessage, accountID string) error {
	log := types.LoggerFromContext(ctx)

	if err := e.limiter.IncrementDaily(ctx, accountID); err != nil {
		log.WarnContext(ctx, "failed to increment daily action counter", "error", err)
	}

	result := &types.ExecutionResult{
		Success:   true,
		Timestamp: e.now(),
		Attempt:   msg.Attempt,
	}
	written, err := e.store.RecordResult(ctx, msg.ActivityID, types.ActivityCompleted, result)
	if err != nil {
		return err
	}
	if !written {
		log.InfoContext(ctx, "terminal state already written by concurrent delivery")
		e.metrics.RecordOutcome(ctx, msg.EngagementType, "noop")
		return nil
	}

	log.InfoContext(ctx, "engagement executed")
	e.metrics.RecordOutcome(ctx, msg.EngagementType, "success")
	return nil
}

// finalizeFailure writes the failed terminal state and appends a dead-letter
// record. Dead-letter write failures are logged and swallowed: losing
// post-mortem detail must not wedge the activity in a non-terminal state.
func (e *Executor) finalizeFailure(ctx context.Context, msg types.EngagementJobMessage, activity *types.EngagementActivity, cause error) error {
	log := types.LoggerFromContext(ctx)
	code := types.ClassifyError(cause)

	result := &types.ExecutionResult{
		Success:          false,
		Timestamp:        e.now(),
		Error:            cause.Error(),
		ErrorType:        code,
		Attempt:          msg.Attempt,
		PermanentFailure: true,
	}
	written, err := e.store.RecordResult(ctx, msg.ActivityID, types.ActivityFailed, result)
	if err != nil {
		return err
	}
	if !written {
		log.InfoContext(ctx, "terminal state already written by concurrent delivery")
		e.metrics.RecordOutcome(ctx, msg.EngagementType, "noop")
		return nil
	}

	if dlErr := e.deadLetters.Create(ctx, &types.DeadLetterRecord{
		ActivityID: msg.ActivityID,
		Error:      cause.Error(),
		ErrorType:  code,
		Attempts:   msg.Attempt,
	}); dlErr != nil {
		log.ErrorContext(ctx, "failed to write dead letter record", "error", dlErr)
	}

	log.ErrorContext(ctx, "engagement permanently failed",
		"error", cause, "error_type", string(code))
	e.metrics.RecordOutcome(ctx, msg.EngagementType, "permanent_failure")
	return nil
}

// scheduleRetry records the failed attempt and re-publishes the job with
// backoff. The published copy carries attempt+1; the original message is
// acked by the pool when this returns nil.
func (e *Executor) scheduleRetry(ctx context.Context, msg types.EngagementJobMessage, cause error) error {
	log := types.LoggerFromContext(ctx)
	code := types.ClassifyError(cause)

	if err := e.store.RecordAttempt(ctx, msg.ActivityID, &types.ExecutionResult{
		Success:   false,
		Timestamp: e.now(),
		Error:     cause.Error(),
		ErrorType: code,
		Attempt:   msg.Attempt,
	}); err != nil {
		log.WarnContext(ctx, "failed to record attempt outcome", "error", err)
	}

	delay := e.policy.Backoff(msg.Attempt)
	if err := e.publisher.PublishRetry(ctx, msg, delay); err != nil {
		// Re-publish failed: leave the original message to SQS redelivery so
		// the attempt is not lost.
		return err
	}

	log.InfoContext(ctx, "retry scheduled", "delay", delay.String(), "next_attempt", msg.Attempt+1)
	e.metrics.RecordOutcome(ctx, msg.EngagementType, "retry")
	return nil
}
