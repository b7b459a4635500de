package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/pipeline"
)

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSSource long-polls an SQS queue fed by S3 bucket notifications. Messages
// that fail processing are simply not deleted; SQS redelivers them after the
// visibility timeout.
type SQSSource struct {
	client      SQSAPI
	queueURL    string
	waitTime    int32
	maxMessages int32
}

// NewSQSSource builds an SQS source from configuration, loading AWS
// credentials from the default chain.
func NewSQSSource(ctx context.Context, cfg config.SQSConfig) (*SQSSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSQSSourceWithClient(sqs.NewFromConfig(awsCfg), cfg), nil
}

// NewSQSSourceWithClient builds an SQS source around an existing client.
func NewSQSSourceWithClient(client SQSAPI, cfg config.SQSConfig) *SQSSource {
	return &SQSSource{
		client:      client,
		queueURL:    cfg.QueueURL,
		waitTime:    int32(cfg.WaitTimeSeconds),
		maxMessages: int32(cfg.MaxMessages),
	}
}

func (s *SQSSource) Receive(ctx context.Context) ([]Message, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &s.queueURL,
		MaxNumberOfMessages: s.maxMessages,
		WaitTimeSeconds:     s.waitTime,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving from SQS: %w", err)
	}

	var msgs []Message
	for _, raw := range out.Messages {
		if raw.Body == nil || raw.ReceiptHandle == nil {
			continue
		}
		notifications, err := parseS3Event([]byte(*raw.Body))
		if err != nil {
			// Not an S3 event (e.g. s3:TestEvent sent on notification
			// setup). Ack it so it does not loop forever.
			slog.Warn("dropping non-event SQS message", "error", err)
			if _, derr := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &s.queueURL,
				ReceiptHandle: raw.ReceiptHandle,
			}); derr != nil {
				slog.Warn("deleting malformed SQS message", "error", derr)
			}
			continue
		}
		for _, n := range notifications {
			msgs = append(msgs, Message{Notification: n, handle: *raw.ReceiptHandle})
		}
	}
	return msgs, nil
}

func (s *SQSSource) Ack(ctx context.Context, m Message) error {
	if m.handle == "" {
		return nil
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &s.queueURL,
		ReceiptHandle: &m.handle,
	})
	if err != nil {
		return fmt.Errorf("deleting SQS message: %w", err)
	}
	return nil
}

func (s *SQSSource) Close() error { return nil }

// s3Event is the notification document S3 posts to SQS.
type s3Event struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// parseS3Event extracts notifications from an S3 event body. Object keys
// arrive URL-encoded (spaces as '+'), so they are decoded here.
func parseS3Event(body []byte) ([]pipeline.Notification, error) {
	var ev s3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding S3 event: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, fmt.Errorf("S3 event has no records")
	}
	var out []pipeline.Notification
	for _, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decoding object key %q: %w", rec.S3.Object.Key, err)
		}
		out = append(out, pipeline.Notification{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
		})
	}
	return out, nil
}
