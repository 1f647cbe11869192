// Package ratelimit enforces per-account action budgets backed by DynamoDB.
// Two item families share one table, keyed by pk:
//
//	daily#<accountID>#<YYYY-MM-DD>  counter of actions in the UTC day
//	cooldown#<accountID>            presence marks a provider-imposed pause
//
// Both carry an expires_at TTL attribute. DynamoDB deletes expired items
// lazily, so reads always re-check expires_at against the clock.
//
// The limiter protects member accounts, not the pipeline: when the store is
// unreachable the limiter fails open and lets the action proceed, because a
// skipped engagement hurts the member more than a small budget overshoot.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"podflow/internal/config"
)

// Deny reasons reported by Allow.
const (
	ReasonDailyCap = "daily_cap_reached"
	ReasonCooldown = "cooldown_active"
)

// DynamoAPI abstracts the DynamoDB operations the limiter uses, satisfied by
// *dynamodb.Client.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// limitItem is the stored shape for both item families.
type limitItem struct {
	PK        string `dynamodbav:"pk"`
	Count     int    `dynamodbav:"count,omitempty"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// Limiter checks and records per-account action budgets.
type Limiter struct {
	db     DynamoAPI
	table  string
	cap    int
	pause  time.Duration
	logger *slog.Logger
	now    func() time.Time // injectable clock for tests
}

// NewLimiter creates a Limiter from configuration.
func NewLimiter(db DynamoAPI, table string, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		db:     db,
		table:  table,
		cap:    cfg.DailyActionCap,
		pause:  cfg.Cooldown,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow reports whether the account may perform an action now. The deny
// reason is one of the Reason constants. Store errors fail open: the action
// proceeds and a warning is logged, since blocking the whole pipeline on a
// limiter outage is worse than briefly exceeding a soft budget.
func (l *Limiter) Allow(ctx context.Context, accountID string) (bool, string) {
	now := l.now()

	cooldown, err := l.getItem(ctx, cooldownKey(accountID))
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unreachable, failing open",
			"account_id", accountID, "error", err)
		return true, ""
	}
	if cooldown != nil && cooldown.ExpiresAt > now.Unix() {
		return false, ReasonCooldown
	}

	daily, err := l.getItem(ctx, dailyKey(accountID, now))
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unreachable, failing open",
			"account_id", accountID, "error", err)
		return true, ""
	}
	if daily != nil && daily.ExpiresAt > now.Unix() && daily.Count >= l.cap {
		return false, ReasonDailyCap
	}

	return true, ""
}

// IncrementDaily adds one action to the account's daily counter. Called after
// a successful provider action, never before: an action that failed must not
// consume budget. The TTL lands on the next UTC midnight so the counter
// resets with the day.
func (l *Limiter) IncrementDaily(ctx context.Context, accountID string) error {
	now := l.now()
	_, err := l.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]ddbTypes.AttributeValue{
			"pk": &ddbTypes.AttributeValueMemberS{Value: dailyKey(accountID, now)},
		},
		UpdateExpression: aws.String("ADD #c :one SET expires_at = if_not_exists(expires_at, :exp)"),
		ExpressionAttributeNames: map[string]string{
			"#c": "count",
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":one": &ddbTypes.AttributeValueMemberN{Value: "1"},
			":exp": &ddbTypes.AttributeValueMemberN{Value: strconv.FormatInt(endOfUTCDay(now).Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("ratelimit: failed to increment daily counter for %s: %w", accountID, err)
	}
	return nil
}

// SetCooldown pauses the account after a provider throttle response. The
// pause duration comes from configuration, not from the provider; Retry-After
// handling happens at the retry layer.
func (l *Limiter) SetCooldown(ctx context.Context, accountID string) error {
	now := l.now()
	item, err := attributevalue.MarshalMap(limitItem{
		PK:        cooldownKey(accountID),
		ExpiresAt: now.Add(l.pause).Unix(),
	})
	if err != nil {
		return fmt.Errorf("ratelimit: failed to marshal cooldown item: %w", err)
	}

	if _, err := l.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("ratelimit: failed to set cooldown for %s: %w", accountID, err)
	}
	return nil
}

func (l *Limiter) getItem(ctx context.Context, pk string) (*limitItem, error) {
	out, err := l.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key: map[string]ddbTypes.AttributeValue{
			"pk": &ddbTypes.AttributeValueMemberS{Value: pk},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var item limitItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func dailyKey(accountID string, t time.Time) string {
	return fmt.Sprintf("daily#%s#%s", accountID, t.UTC().Format("2006-01-02"))
}

func cooldownKey(accountID string) string {
	return "cooldown#" + accountID
}

// endOfUTCDay returns the next UTC midnight after t.
func endOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
