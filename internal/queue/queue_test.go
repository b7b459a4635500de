package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/pipeline"
)

func TestParseS3Event(t *testing.T) {
	body := `{
		"Records": [{
			"eventName": "ObjectCreated:Put",
			"s3": {
				"bucket": {"name": "images"},
				"object": {"key": "alice/my+photo.jpg", "size": 1024}
			}
		}]
	}`
	notifications, err := parseS3Event([]byte(body))
	if err != nil {
		t.Fatalf("parseS3Event: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("parsed %d notifications, want 1", len(notifications))
	}
	n := notifications[0]
	if n.Bucket != "images" {
		t.Errorf("Bucket = %q, want images", n.Bucket)
	}
	// Object keys arrive URL-encoded with '+' for spaces.
	if n.Key != "alice/my photo.jpg" {
		t.Errorf("Key = %q, want %q", n.Key, "alice/my photo.jpg")
	}
	if n.Size != 1024 {
		t.Errorf("Size = %d, want 1024", n.Size)
	}
}

func TestParseS3EventMultipleRecords(t *testing.T) {
	body := `{"Records": [
		{"s3": {"bucket": {"name": "images"}, "object": {"key": "u1/a", "size": 1}}},
		{"s3": {"bucket": {"name": "images"}, "object": {"key": "u1/b", "size": 2}}}
	]}`
	notifications, err := parseS3Event([]byte(body))
	if err != nil {
		t.Fatalf("parseS3Event: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("parsed %d notifications, want 2", len(notifications))
	}
}

func TestParseS3EventRejectsNonEvents(t *testing.T) {
	for _, body := range []string{
		`{"Service":"Amazon S3","Event":"s3:TestEvent"}`,
		`not json`,
		`{}`,
	} {
		if _, err := parseS3Event([]byte(body)); err == nil {
			t.Errorf("parseS3Event(%q) accepted a non-event body", body)
		}
	}
}

func TestMemorySourcePublishReceive(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(4)
	defer source.Close()

	want := pipeline.Notification{Bucket: "images", Key: "alice/img1", Size: 7}
	if err := source.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := source.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Notification != want {
		t.Fatalf("Receive = %+v, want one message %+v", msgs, want)
	}
	if err := source.Ack(ctx, msgs[0]); err != nil {
		t.Errorf("Ack: %v", err)
	}
}

func TestMemorySourceReceiveHonorsContext(t *testing.T) {
	source := NewMemorySource(1)
	defer source.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := source.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive on empty source = %v, want DeadlineExceeded", err)
	}
}

// scriptedHandler returns the next error from its script per dispatch.
type scriptedHandler struct {
	mu     sync.Mutex
	script []error
	calls  int
}

func (h *scriptedHandler) Dispatch(ctx context.Context, n pipeline.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if h.calls < len(h.script) {
		err = h.script[h.calls]
	}
	h.calls++
	return err
}

// recordingSource hands out a fixed message list once and records acks.
type recordingSource struct {
	mu    sync.Mutex
	msgs  []Message
	given bool
	acked []string
}

func (s *recordingSource) Receive(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	if !s.given {
		s.given = true
		msgs := s.msgs
		s.mu.Unlock()
		return msgs, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *recordingSource) Ack(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, m.Notification.Key)
	return nil
}

func (s *recordingSource) Close() error { return nil }

func runPool(t *testing.T, source Source, handler Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(source, handler, 1)
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not stop after cancel")
	}
}

func TestWorkerPoolAcksSuccess(t *testing.T) {
	source := &recordingSource{msgs: []Message{
		{Notification: pipeline.Notification{Bucket: "images", Key: "u1/a"}},
	}}
	runPool(t, source, &scriptedHandler{})

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.acked) != 1 || source.acked[0] != "u1/a" {
		t.Errorf("acked = %v, want [u1/a]", source.acked)
	}
}

func TestWorkerPoolLeavesTransientForRedelivery(t *testing.T) {
	source := &recordingSource{msgs: []Message{
		{Notification: pipeline.Notification{Bucket: "images", Key: "u1/a"}},
	}}
	handler := &scriptedHandler{script: []error{apierr.Transient("stage", errors.New("throttled"))}}
	runPool(t, source, handler)

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.acked) != 0 {
		t.Errorf("transient failure was acked: %v", source.acked)
	}
}

func TestWorkerPoolAcksPermanentFailure(t *testing.T) {
	// Redelivery cannot fix a permanent failure, so the message is acked
	// to keep it from looping forever.
	source := &recordingSource{msgs: []Message{
		{Notification: pipeline.Notification{Bucket: "images", Key: "u1/a"}},
	}}
	handler := &scriptedHandler{script: []error{apierr.InvalidInput("stage", errors.New("corrupt"))}}
	runPool(t, source, handler)

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.acked) != 1 {
		t.Errorf("permanent failure not acked: %v", source.acked)
	}
}
