package aws

import (
	"context"
	"fmt"
	"strconv"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// MessageHandler processes one message body. A nil return deletes the message.
type MessageHandler func(ctx context.Context, body string) error

// SQSConsumer long-polls a single queue. A message that keeps failing is
// deleted once it has been received MaxReceives times.
type SQSConsumer struct {
	client      *sqs.Client
	queueURL    string
	maxReceives int
	logger      *zap.Logger
}

func NewSQSConsumer(cfg sdkaws.Config, queueURL string, maxReceives int, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:      sqs.NewFromConfig(cfg),
		queueURL:    queueURL,
		maxReceives: maxReceives,
		logger:      logger,
	}
}

// StartPolling polls until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL), zap.Int("max_receives", c.maxReceives))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped", zap.String("queue_url", c.queueURL))
			return ctx.Err()
		default:
		}
		if err := c.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
			c.logger.Warn("Error polling SQS", zap.Error(err))
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return fmt.Errorf("receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}
		id := sdkaws.ToString(msg.MessageId)

		err := handler(ctx, *msg.Body)
		if err != nil {
			if !c.exhausted(msg) {
				c.logger.Warn("Failed to process SQS message; leaving for redelivery", zap.String("message_id", id), zap.Error(err))
				continue
			}
			c.logger.Error("Dropping SQS message after repeated failures",
				zap.String("message_id", id),
				zap.String("receive_count", msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]),
				zap.Error(err),
			)
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      sdkaws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("Failed to delete SQS message", zap.String("message_id", id), zap.Error(err))
		}
	}

	return nil
}

func (c *SQSConsumer) exhausted(msg types.Message) bool {
	if c.maxReceives <= 0 {
		return false
	}
	n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	return err == nil && n >= c.maxReceives
}
