package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

const (
	sqsMaxMessages = 10
	sqsMaxWait     = 20 * time.Second
)

// SQSAPI is the subset of the SQS client the queue uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueueConfig holds queue configuration
type SQSQueueConfig struct {
	QueueURL string

	// GroupID is the MessageGroupId used for FIFO queues.
	GroupID           string
	VisibilityTimeout time.Duration
}

// SQSQueue implements Queue on Amazon SQS. Queues whose URL ends in
// ".fifo" get ordered delivery within one message group.
type SQSQueue struct {
	client     SQSAPI
	queueURL   string
	fifo       bool
	groupID    string
	visibility time.Duration
}

// NewSQSQueue creates a queue bound to one queue URL
func NewSQSQueue(client SQSAPI, cfg *SQSQueueConfig) (*SQSQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("SQS client is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "vision-pipeline"
	}

	return &SQSQueue{
		client:     client,
		queueURL:   cfg.QueueURL,
		fifo:       strings.HasSuffix(cfg.QueueURL, ".fifo"),
		groupID:    groupID,
		visibility: cfg.VisibilityTimeout,
	}, nil
}

// FIFO reports whether the queue delivers in send order
func (q *SQSQueue) FIFO() bool { return q.fifo }

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}
	if q.fifo {
		input.MessageGroupId = aws.String(q.groupID)
		input.MessageDeduplicationId = aws.String(uuid.NewString())
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if wait < 0 {
		wait = 0
	}
	if wait > sqsMaxWait {
		wait = sqsMaxWait
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(clampMax(maxMessages, sqsMaxMessages)),
		WaitTimeSeconds:     int32(wait / time.Second),
		AttributeNames:      []types.QueueAttributeName{"ApproximateReceiveCount"},
	}
	if q.visibility > 0 {
		input.VisibilityTimeout = int32(q.visibility / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		var invalid *types.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return ErrStaleReceipt
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Close() error { return nil }
