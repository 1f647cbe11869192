package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"podflow/internal/types"
)

// Metric and dimension names emitted by the worker.
const (
	metricOutcome         = "EngagementOutcome"
	metricProviderLatency = "ProviderLatency"
	metricQueueLag        = "EngagementQueueLag"

	dimType   = "Type"
	dimResult = "Result"
)

// EngagementMetrics records execution telemetry. Implementations must never
// fail the execution path; emission errors are logged and swallowed.
type EngagementMetrics interface {
	RecordOutcome(ctx context.Context, kind types.EngagementType, result string)
	RecordProviderLatency(ctx context.Context, kind types.EngagementType, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchEngagementMetrics implements
// EngagementMetrics.
var _ EngagementMetrics = (*CloudWatchEngagementMetrics)(nil)

// CloudWatchEngagementMetrics emits worker telemetry to CloudWatch.
//
// Metrics emitted:
//   - EngagementOutcome: Dims {Type, Result} -- on every execution outcome
//   - ProviderLatency:   Dims {Type}         -- provider round-trip time
//   - EngagementQueueLag: no dims            -- enqueue-to-processing delay
type CloudWatchEngagementMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchEngagementMetrics creates a metrics emitter publishing to the
// given CloudWatch namespace.
func NewCloudWatchEngagementMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchEngagementMetrics {
	return &CloudWatchEngagementMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits an EngagementOutcome count with Type and Result
// dimensions. Result is one of "success", "retry", "permanent_failure",
// "noop".
func (m *CloudWatchEngagementMetrics) RecordOutcome(ctx context.Context, kind types.EngagementType, result string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricOutcome),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dimType), Value: aws.String(string(kind))},
					{Name: aws.String(dimResult), Value: aws.String(result)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record outcome metric",
			"error", err, "type", string(kind), "result", result)
	}
}

// RecordProviderLatency emits the provider round-trip time in milliseconds.
func (m *CloudWatchEngagementMetrics) RecordProviderLatency(ctx context.Context, kind types.EngagementType, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricProviderLatency),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dimType), Value: aws.String(string(kind))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record latency metric",
			"error", err, "type", string(kind), "duration_ms", d.Milliseconds())
	}
}

// RecordQueueLag emits the time between SQS enqueue and processing start,
// covering delivery delay, backlog, and redeliveries.
func (m *CloudWatchEngagementMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricQueueLag),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record queue lag metric",
			"error", err, "lag_ms", lag.Milliseconds())
	}
}

// NopMetrics discards all telemetry. Used in tests and local development.
type NopMetrics struct{}

func (NopMetrics) RecordOutcome(context.Context, types.EngagementType, string)                {}
func (NopMetrics) RecordProviderLatency(context.Context, types.EngagementType, time.Duration) {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)                              {}
