package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podflow/internal/config"
	"podflow/internal/types"
)

// SQSReceiver abstracts the SQS consumer operations for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Handler processes one decoded job. A nil return deletes the message; an
// error leaves it to SQS redelivery after the visibility timeout lapses.
type Handler interface {
	Execute(ctx context.Context, msg types.EngagementJobMessage) error
}

// Health is a point-in-time snapshot of the pool, exposed on the stats
// endpoint.
type Health struct {
	Running  bool   `json:"running"`
	WorkerID string `json:"worker_id"`
	Workers  int    `json:"workers"`
	InFlight int    `json:"in_flight"`
}

// Pool long-polls the engagement queue and fans messages out to a bounded
// set of handler goroutines. Each in-flight message gets a heartbeat that
// extends its visibility timeout at half the lock duration, so a slow
// provider call does not cause a concurrent redelivery.
type Pool struct {
	receiver SQSReceiver
	handler  Handler
	queueURL string
	workerID string

	concurrency  int
	lockDuration time.Duration
	waitTime     time.Duration

	logger  *slog.Logger
	metrics EngagementMetrics

	running  atomic.Bool
	inFlight atomic.Int64
}

// NewPool creates a Pool from worker configuration. Concurrency outside the
// supported bounds is clamped rather than rejected.
func NewPool(receiver SQSReceiver, handler Handler, queueURL string, cfg config.WorkerConfig, metrics EngagementMetrics, logger *slog.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency < 2 {
		concurrency = 2
	}
	if concurrency > 5 {
		concurrency = 5
	}

	workerID := "worker_" + uuid.New().String()
	return &Pool{
		receiver:     receiver,
		handler:      handler,
		queueURL:     queueURL,
		workerID:     workerID,
		concurrency:  concurrency,
		lockDuration: cfg.LockDuration,
		waitTime:     cfg.WaitTime,
		logger:       logger.With("worker_id", workerID),
		metrics:      metrics,
	}
}

// Health reports the pool's current state.
func (p *Pool) Health() Health {
	return Health{
		Running:  p.running.Load(),
		WorkerID: p.workerID,
		Workers:  p.concurrency,
		InFlight: int(p.inFlight.Load()),
	}
}

// Run consumes the queue until the context is cancelled, then drains
// in-flight handlers before returning. Receive errors back off and retry;
// only context cancellation ends the loop.
func (p *Pool) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	p.logger.InfoContext(ctx, "worker pool starting",
		"queue_url", p.queueURL,
		"concurrency", p.concurrency,
		"lock_duration", p.lockDuration.String(),
	)

	// Handlers run on a context that survives shutdown so in-flight actions
	// finish and commit their terminal writes before Run returns.
	handlerCtx := context.WithoutCancel(ctx)

	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			p.logger.InfoContext(ctx, "worker pool stopping, draining in-flight handlers")
			return ctx.Err()
		}

		out, err := p.receiver.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: int32(p.concurrency),
			WaitTimeSeconds:     int32(p.waitTime.Seconds()),
			VisibilityTimeout:   int32(p.lockDuration.Seconds()),
			MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
				sqsTypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			consecutiveErrors++
			backoff := time.Duration(consecutiveErrors) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			p.logger.ErrorContext(ctx, "receive failed, backing off",
				"error", err, "consecutive_errors", consecutiveErrors, "backoff", backoff.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		consecutiveErrors = 0

		if len(out.Messages) == 0 {
			continue
		}

		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for _, raw := range out.Messages {
			raw := raw
			g.Go(func() error {
				p.processMessage(handlerCtx, raw)
				return nil
			})
		}
		// Wait for the batch so receive volume never outruns the handler
		// budget. A batch is bounded by the provider timeout, so shutdown
		// drains within one batch at most.
		_ = g.Wait()
	}
}

// processMessage decodes, heartbeats, and dispatches one SQS message.
func (p *Pool) processMessage(ctx context.Context, raw sqsTypes.Message) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	p.recordQueueLag(ctx, raw)

	var msg types.EngagementJobMessage
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
		// Undecodable payloads can never succeed; drop them instead of
		// letting SQS redeliver forever.
		p.logger.ErrorContext(ctx, "dropping malformed job payload", "error", err)
		p.deleteMessage(ctx, raw)
		return
	}

	// Heartbeat: extend visibility at half the lock duration while the
	// handler runs, so the message stays locked for slow provider calls.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, raw)

	err := p.handler.Execute(ctx, msg)
	stopHeartbeat()

	if err != nil {
		p.logger.ErrorContext(ctx, "job handling failed, leaving message for redelivery",
			"activity_id", msg.ActivityID, "attempt", msg.Attempt, "error", err)
		return
	}
	p.deleteMessage(ctx, raw)
}

// heartbeat extends the message's visibility timeout every lockDuration/2
// until cancelled.
func (p *Pool) heartbeat(ctx context.Context, raw sqsTypes.Message) {
	interval := p.lockDuration / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := p.receiver.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(p.queueURL),
				ReceiptHandle:     raw.ReceiptHandle,
				VisibilityTimeout: int32(p.lockDuration.Seconds()),
			})
			if err != nil && ctx.Err() == nil {
				p.logger.WarnContext(ctx, "failed to extend message visibility", "error", err)
			}
		}
	}
}

func (p *Pool) deleteMessage(ctx context.Context, raw sqsTypes.Message) {
	_, err := p.receiver.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: raw.ReceiptHandle,
	})
	if err != nil {
		// The handler outcome is durable; a redelivered duplicate resolves
		// as a no-op through the status guard.
		p.logger.WarnContext(ctx, "failed to delete handled message", "error", err)
	}
}

// recordQueueLag emits the delay between enqueue and processing start using
// the SentTimestamp system attribute (epoch milliseconds).
func (p *Pool) recordQueueLag(ctx context.Context, raw sqsTypes.Message) {
	sent, ok := raw.Attributes[string(sqsTypes.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return
	}
	lag := time.Since(time.UnixMilli(ms))
	if lag > 0 {
		p.metrics.RecordQueueLag(ctx, lag)
	}
}
