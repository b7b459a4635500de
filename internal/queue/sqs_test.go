package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pixyard/pixyard/internal/config"
)

// fakeSQS serves a canned receive batch and records deletions.
type fakeSQS struct {
	messages []types.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func testSQSSource(client SQSAPI) *SQSSource {
	return NewSQSSourceWithClient(client, config.SQSConfig{
		QueueURL:        "https://sqs.test/queue",
		WaitTimeSeconds: 1,
		MaxMessages:     10,
	})
}

func TestSQSSourceReceiveDecodesEvents(t *testing.T) {
	ctx := context.Background()
	client := &fakeSQS{messages: []types.Message{{
		Body: aws.String(`{"Records":[{"s3":{"bucket":{"name":"images"},"object":{"key":"u1/a.jpg","size":3}}}]}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}

	source := testSQSSource(client)
	msgs, err := source.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Receive returned %d messages, want 1", len(msgs))
	}
	if msgs[0].Notification.Key != "u1/a.jpg" || msgs[0].Notification.Bucket != "images" {
		t.Errorf("notification = %+v", msgs[0].Notification)
	}
	if len(client.deleted) != 0 {
		t.Errorf("Receive deleted messages before Ack: %v", client.deleted)
	}

	if err := source.Ack(ctx, msgs[0]); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "rh-1" {
		t.Errorf("deleted = %v, want [rh-1]", client.deleted)
	}
}

func TestSQSSourceDropsNonEventMessages(t *testing.T) {
	// s3:TestEvent bodies are acked immediately so they do not loop forever.
	client := &fakeSQS{messages: []types.Message{{
		Body:          aws.String(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`),
		ReceiptHandle: aws.String("rh-test"),
	}}}

	source := testSQSSource(client)
	msgs, err := source.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Receive returned %d messages for a non-event body, want 0", len(msgs))
	}
	if len(client.deleted) != 1 || client.deleted[0] != "rh-test" {
		t.Errorf("deleted = %v, want [rh-test]", client.deleted)
	}
}
