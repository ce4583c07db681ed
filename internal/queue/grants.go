// Package queue publishes grant events to SQS so downstream consumers (CRM
// sync, accounting) learn about every credit grant without polling the
// entitlement store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"mayroga/internal/entitlement"
	"mayroga/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// GrantPublisher sends each GrantEvent as a JSON message. The event id is
// the deduplication key consumers should use.
type GrantPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

var _ entitlement.GrantPublisher = (*GrantPublisher)(nil)

// NewGrantPublisher creates a GrantPublisher for queueURL.
func NewGrantPublisher(client SQSSender, queueURL string, logger *slog.Logger) *GrantPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishGrant enqueues event. Message attributes carry the source and
// service so consumers can filter without decoding the body.
func (p *GrantPublisher) PublishGrant(ctx context.Context, event types.GrantEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal GrantEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Source)),
			},
			"service_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.ServiceID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send GrantEvent to %s: %w", p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "grant event sent",
		"event_id", event.ID,
		"nickname", event.Nickname,
		"service_id", event.ServiceID,
		"source", string(event.Source),
	)
	return nil
}

// NoopPublisher drops events. It is used when no queue is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishGrant(context.Context, types.GrantEvent) error { return nil }
