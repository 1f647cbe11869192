// Package queue provides the SQS-based producer and statistics surface for
// the engagement job queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-playground/validator/v10"

	"podflow/internal/types"
)

// maxDelaySeconds is the SQS DelaySeconds ceiling. Delays beyond it are
// clamped; the worker re-delays early deliveries from the envelope's
// scheduled_for instead.
const maxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// JobPublisher serializes EngagementJobMessages and sends them to the
// engagement SQS queue. Every message is validated before enqueue so that a
// malformed payload is rejected at the producer, never half-processed by a
// worker.
type JobPublisher struct {
	client   SQSSender
	queueURL string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewJobPublisher creates a new JobPublisher targeting the engagement queue.
func NewJobPublisher(client SQSSender, queueURL string, logger *slog.Logger) *JobPublisher {
	return &JobPublisher{
		client:   client,
		queueURL: queueURL,
		validate: validator.New(),
		logger:   logger,
	}
}

// Publish validates the message, serializes it to JSON, and sends it to the
// engagement queue with the specified delay.
//
// SQS enforces a maximum DelaySeconds of 900 (15 minutes). Longer delays are
// clamped; the message then arrives early and the worker re-queues it with
// the remaining delay based on the envelope's scheduled_for. An Attempt of
// zero is normalized to 1 so that freshly scheduled jobs always carry a valid
// attempt number.
func (p *JobPublisher) Publish(ctx context.Context, msg types.EngagementJobMessage, delay time.Duration) error {
	if msg.Kind == "" {
		msg.Kind = types.JobKindEngagement
	}
	if msg.Attempt == 0 {
		msg.Attempt = 1
	}

	if err := p.validate.Struct(msg); err != nil {
		return types.NewAppError(types.ErrCodeValidation, "invalid engagement job payload", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal engagement job: %w", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > maxDelaySeconds {
		delaySec = maxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send engagement job to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "engagement job published",
		"activity_id", msg.ActivityID,
		"pod_id", msg.PodID,
		"engagement_type", string(msg.EngagementType),
		"attempt", msg.Attempt,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	)

	return nil
}

// PublishRetry increments the message's Attempt, then publishes it with the
// given backoff delay.
//
// The increment happens BEFORE serialization: the next consumer of the
// message must see an accurate attempt number to apply correct backoff and to
// detect attempt exhaustion.
func (p *JobPublisher) PublishRetry(ctx context.Context, msg types.EngagementJobMessage, delay time.Duration) error {
	msg.Attempt++
	return p.Publish(ctx, msg, delay)
}
