package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mayroga/internal/entitlement"
	"mayroga/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/grant-events"

func TestPublishGrant_SendsJSONBody(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewGrantPublisher(sender, testQueueURL, nil)

	event := types.GrantEvent{
		ID:         "evt-1",
		Nickname:   "bob",
		ServiceID:  "horoscopo",
		Amount:     10,
		Source:     types.GrantSourceCode,
		Token:      "code:bob:n1:horoscopo",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := pub.PublishGrant(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SendMessage call, got %d", len(sender.calls))
	}
	in := sender.calls[0]
	if aws.ToString(in.QueueUrl) != testQueueURL {
		t.Errorf("unexpected queue url %q", aws.ToString(in.QueueUrl))
	}

	var got types.GrantEvent
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if !got.OccurredAt.Equal(event.OccurredAt) {
		t.Errorf("occurred_at = %v, want %v", got.OccurredAt, event.OccurredAt)
	}
	got.OccurredAt = event.OccurredAt
	if got != event {
		t.Errorf("body mismatch:\n got  %+v\n want %+v", got, event)
	}
	if v := aws.ToString(in.MessageAttributes["source"].StringValue); v != "code" {
		t.Errorf("source attribute = %q", v)
	}
	if v := aws.ToString(in.MessageAttributes["service_id"].StringValue); v != "horoscopo" {
		t.Errorf("service_id attribute = %q", v)
	}
}

func TestPublishGrant_SendError(t *testing.T) {
	sender := &mockSQSSender{err: errors.New("throttled")}
	pub := NewGrantPublisher(sender, testQueueURL, nil)

	err := pub.PublishGrant(context.Background(), types.GrantEvent{ID: "e"})
	if err == nil || !errors.Is(err, sender.err) {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}

func TestPublisher_WiredIntoStore(t *testing.T) {
	sender := &mockSQSSender{}
	store := entitlement.WithPublisher(entitlement.NewMemoryStore(), NewGrantPublisher(sender, testQueueURL, nil), nil)
	ctx := context.Background()

	if _, err := store.GrantCredits(ctx, "ana", "risoterapia", 1, entitlement.PaymentToken("cs_1")); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := store.GrantCredits(ctx, "ana", "risoterapia", 1, entitlement.PaymentToken("cs_1")); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Errorf("expected one message for one applied grant, got %d", len(sender.calls))
	}
}

func TestNoopPublisher(t *testing.T) {
	if err := (NoopPublisher{}).PublishGrant(context.Background(), types.GrantEvent{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
