// Package notify publishes committed ledger settlements to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-ledger/internal/ledger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends one JSON message per settlement.
// Consumers must be idempotent on transaction_code: delivery is at-least-once.
type SQSPublisher struct {
	Client   SQSAPI
	QueueURL string
}

func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{Client: client, QueueURL: queueURL}
}

var _ ledger.Publisher = (*SQSPublisher)(nil)

func (p *SQSPublisher) Publish(ctx context.Context, ev ledger.SettlementEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement for SQS: %w", err)
	}

	_, err = p.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"status": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Status))},
			"type":   {DataType: aws.String("String"), StringValue: aws.String(string(ev.Type))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}

// Noop discards settlements; used when no queue is configured.
type Noop struct{}

func (Noop) Publish(context.Context, ledger.SettlementEvent) error { return nil }
