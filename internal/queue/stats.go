package queue

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"podflow/internal/types"
)

// SQSAttributeGetter abstracts the SQS GetQueueAttributes operation for
// testability.
type SQSAttributeGetter interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Depths reports the engagement queue's message counts by visibility state.
// Waiting messages are deliverable now, active ones are in flight with a
// worker, delayed ones are still inside their DelaySeconds window.
type Depths struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Delayed int `json:"delayed"`
}

// StatsReader reads queue depth statistics for the operational surface.
type StatsReader struct {
	client   SQSAttributeGetter
	queueURL string
}

// NewStatsReader creates a StatsReader for the engagement queue.
func NewStatsReader(client SQSAttributeGetter, queueURL string) *StatsReader {
	return &StatsReader{client: client, queueURL: queueURL}
}

// Depths fetches the approximate message counts from SQS. SQS reports these
// values as eventually consistent strings; parse failures count as zero.
func (s *StatsReader) Depths(ctx context.Context) (Depths, error) {
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(s.queueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{
			sqsTypes.QueueAttributeNameApproximateNumberOfMessages,
			sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Depths{}, types.NewAppError(types.ErrCodeUpstreamQueue, "failed to read queue attributes", err)
	}

	return Depths{
		Waiting: atoiAttr(out.Attributes, string(sqsTypes.QueueAttributeNameApproximateNumberOfMessages)),
		Active:  atoiAttr(out.Attributes, string(sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)),
		Delayed: atoiAttr(out.Attributes, string(sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed)),
	}, nil
}

func atoiAttr(attrs map[string]string, key string) int {
	n, _ := strconv.Atoi(attrs[key])
	return n
}
