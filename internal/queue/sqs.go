package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQS batch limits.
const (
	sqsBatchMax = 10
	waitSeconds = 5
)

// SQSClient implements Client against AWS SQS.
type SQSClient struct {
	api *sqs.SQS

	mu   sync.Mutex
	urls map[string]string
}

var _ Client = (*SQSClient)(nil)

// NewSQSClient creates an SQS client on the given session.
func NewSQSClient(sess *session.Session) *SQSClient {
	return &SQSClient{
		api:  sqs.New(sess),
		urls: make(map[string]string),
	}
}

func (c *SQSClient) queueURL(ctx context.Context, queueName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if url, ok := c.urls[queueName]; ok {
		return url, nil
	}
	out, err := c.api.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue %s: %w", queueName, err)
	}
	url := aws.StringValue(out.QueueUrl)
	c.urls[queueName] = url
	return url, nil
}

// Send enqueues message bodies in batches of at most ten.
func (c *SQSClient) Send(ctx context.Context, queueName string, bodies []string) error {
	url, err := c.queueURL(ctx, queueName)
	if err != nil {
		return err
	}
	for start := 0; start < len(bodies); start += sqsBatchMax {
		end := start + sqsBatchMax
		if end > len(bodies) {
			end = len(bodies)
		}
		entries := make([]*sqs.SendMessageBatchRequestEntry, 0, end-start)
		for i, body := range bodies[start:end] {
			entries = append(entries, &sqs.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(body),
			})
		}
		_, err := c.api.SendMessageBatchWithContext(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(url),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("failed to send batch to %s: %w", queueName, err)
		}
	}
	return nil
}

// Receive pulls up to max messages, issuing as many SQS reads as needed.
func (c *SQSClient) Receive(ctx context.Context, queueName string, max int) ([]Message, error) {
	url, err := c.queueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}
	var messages []Message
	for len(messages) < max {
		want := int64(max - len(messages))
		if want > sqsBatchMax {
			want = sqsBatchMax
		}
		out, err := c.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: aws.Int64(want),
			WaitTimeSeconds:     aws.Int64(waitSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to receive from %s: %w", queueName, err)
		}
		if len(out.Messages) == 0 {
			break
		}
		for _, msg := range out.Messages {
			messages = append(messages, Message{
				ID:      aws.StringValue(msg.MessageId),
				Body:    aws.StringValue(msg.Body),
				Receipt: aws.StringValue(msg.ReceiptHandle),
			})
		}
	}
	return messages, nil
}

// Delete removes a received message.
func (c *SQSClient) Delete(ctx context.Context, queueName string, receipt string) error {
	url, err := c.queueURL(ctx, queueName)
	if err != nil {
		return err
	}
	_, err = c.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", queueName, err)
	}
	return nil
}
