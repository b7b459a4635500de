package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/recognition"
	"github.com/pixyard/pixyard/internal/storage"
)

const (
	testRawBucket        = "images"
	testDerivativeBucket = "images-resized"
)

// testPNG encodes a solid-color PNG of the given dimensions.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test PNG: %v", err)
	}
	return buf.Bytes()
}

func testRetrier() *Retrier {
	return NewRetrier(config.RetryConfig{MaxAttempts: 3, InitialIntervalMS: 1, MaxIntervalMS: 5})
}

func newTestPipeline(store storage.ObjectStore, meta metadata.Store, engine recognition.Engine) *Dispatcher {
	retrier := testRetrier()
	return NewDispatcher(
		NewDerivativeGenerator(store, testRawBucket, testDerivativeBucket, 128, 128, retrier),
		NewLabelExtractor(store, testRawBucket, engine, meta, 10, 0.5, retrier),
		5*time.Second,
	)
}

func putRaw(t *testing.T, store storage.ObjectStore, key string, data []byte) {
	t.Helper()
	if err := store.PutObject(context.Background(), testRawBucket, key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("seeding raw object %s: %v", key, err)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	engine := recognition.NewStaticEngine()
	engine.SetLabels([]metadata.Label{{Name: "cat", Confidence: 0.95}})

	putRaw(t, store, "alice/img1", testPNG(t, 640, 480))

	d := newTestPipeline(store, meta, engine)
	if err := d.Dispatch(ctx, Notification{Bucket: testRawBucket, Key: "alice/img1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	exists, err := store.ObjectExists(ctx, testDerivativeBucket, "alice/img1")
	if err != nil || !exists {
		t.Fatalf("derivative exists = (%v, %v), want (true, nil)", exists, err)
	}

	// The derivative must decode as JPEG and fit the bounding box.
	r, _, err := store.GetObject(ctx, testDerivativeBucket, "alice/img1")
	if err != nil {
		t.Fatalf("GetObject derivative: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	thumb, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("derivative is not a JPEG: %v", err)
	}
	b := thumb.Bounds()
	if b.Dx() > 128 || b.Dy() > 128 {
		t.Errorf("derivative is %dx%d, want within 128x128", b.Dx(), b.Dy())
	}
	if b.Dx() != 128 || b.Dy() != 96 {
		t.Errorf("derivative is %dx%d, want 128x96 (aspect preserved)", b.Dx(), b.Dy())
	}

	rec, err := meta.Get(ctx, "alice", "img1")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if rec == nil {
		t.Fatal("no metadata record after pipeline")
	}
	if len(rec.Labels) != 1 || rec.Labels[0].Name != "cat" || rec.Labels[0].Confidence != 0.95 {
		t.Errorf("labels = %+v, want [{cat 0.95}]", rec.Labels)
	}
}

func TestPipelineRedeliveryIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	engine := recognition.NewStaticEngine()

	putRaw(t, store, "alice/img1", testPNG(t, 64, 64))

	d := newTestPipeline(store, meta, engine)
	n := Notification{Bucket: testRawBucket, Key: "alice/img1"}
	if err := d.Dispatch(ctx, n); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	first, err := meta.Get(ctx, "alice", "img1")
	if err != nil || first == nil {
		t.Fatalf("Get after first dispatch = (%v, %v)", first, err)
	}

	if err := d.Dispatch(ctx, n); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	second, err := meta.Get(ctx, "alice", "img1")
	if err != nil || second == nil {
		t.Fatalf("Get after second dispatch = (%v, %v)", second, err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on redelivery: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if len(second.Labels) != len(first.Labels) {
		t.Errorf("label count changed on redelivery: %d -> %d", len(first.Labels), len(second.Labels))
	}
	for i := range first.Labels {
		if second.Labels[i] != first.Labels[i] {
			t.Errorf("label %d changed on redelivery: %+v -> %+v", i, first.Labels[i], second.Labels[i])
		}
	}
}

func TestPipelineMissingSourceIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()

	d := newTestPipeline(store, meta, recognition.NewStaticEngine())
	if err := d.Dispatch(ctx, Notification{Bucket: testRawBucket, Key: "alice/gone"}); err != nil {
		t.Fatalf("Dispatch for missing source: %v", err)
	}

	if exists, _ := store.ObjectExists(ctx, testDerivativeBucket, "alice/gone"); exists {
		t.Error("derivative written for missing source")
	}
	if rec, _ := meta.Get(ctx, "alice", "gone"); rec != nil {
		t.Errorf("metadata record written for missing source: %+v", rec)
	}
}

func TestPipelineMalformedKeyDropped(t *testing.T) {
	d := newTestPipeline(storage.NewMemoryStore(), metadata.NewMemoryStore(), recognition.NewStaticEngine())
	if err := d.Dispatch(context.Background(), Notification{Bucket: testRawBucket, Key: "no-namespace"}); err != nil {
		t.Fatalf("Dispatch with malformed key: %v", err)
	}
}

// rejectingEngine permanently rejects every image.
type rejectingEngine struct{}

func (rejectingEngine) DetectLabels(ctx context.Context, image []byte) ([]metadata.Label, error) {
	return nil, apierr.InvalidInput("engine", errors.New("unsupported image content"))
}

func TestPipelinePermanentLabelFailureLeavesDerivative(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()

	putRaw(t, store, "alice/img1", testPNG(t, 32, 32))

	d := newTestPipeline(store, meta, rejectingEngine{})
	// Permanent failures are absorbed: redelivery cannot fix them.
	if err := d.Dispatch(ctx, Notification{Bucket: testRawBucket, Key: "alice/img1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if exists, _ := store.ObjectExists(ctx, testDerivativeBucket, "alice/img1"); !exists {
		t.Error("derivative missing: label failure must not block derivative stage")
	}
	if rec, _ := meta.Get(ctx, "alice", "img1"); rec != nil {
		t.Errorf("metadata record written despite engine rejection: %+v", rec)
	}
}

func TestPipelineCorruptImageStillGetsLabels(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()

	putRaw(t, store, "alice/broken", []byte("this is not an image"))

	d := newTestPipeline(store, meta, recognition.NewStaticEngine())
	if err := d.Dispatch(ctx, Notification{Bucket: testRawBucket, Key: "alice/broken"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if exists, _ := store.ObjectExists(ctx, testDerivativeBucket, "alice/broken"); exists {
		t.Error("derivative written for undecodable image")
	}
	rec, err := meta.Get(ctx, "alice", "broken")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if rec == nil {
		t.Fatal("no metadata record: derivative failure must not block label stage")
	}
}

// flakyStore fails every GetObject with a transient error.
type flakyStore struct {
	storage.ObjectStore
}

func (s flakyStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("connection reset")
}

func TestPipelineTransientFailurePropagates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	meta := metadata.NewMemoryStore()

	putRaw(t, store, "alice/img1", testPNG(t, 16, 16))

	d := newTestPipeline(flakyStore{store}, meta, recognition.NewStaticEngine())
	err := d.Dispatch(ctx, Notification{Bucket: testRawBucket, Key: "alice/img1"})
	if err == nil {
		t.Fatal("Dispatch returned nil, want transient error for redelivery")
	}
	if !apierr.IsTransient(err) {
		t.Errorf("Dispatch error class = %v, want Transient", apierr.ClassOf(err))
	}
}

func TestRetrierStopsOnPermanent(t *testing.T) {
	r := testRetrier()
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return apierr.InvalidInput("test", errors.New("bad input"))
	})
	if err == nil {
		t.Fatal("Do returned nil for permanent error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: %d calls, want 1", calls)
	}
}

func TestRetrierBoundsAttempts(t *testing.T) {
	r := NewRetrier(config.RetryConfig{MaxAttempts: 3, InitialIntervalMS: 1, MaxIntervalMS: 2})
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return apierr.Transient("test", errors.New("throttled"))
	})
	if err == nil {
		t.Fatal("Do returned nil for persistent transient error")
	}
	if calls != 3 {
		t.Errorf("transient error attempted %d times, want 3", calls)
	}
}

func TestRetrierSucceedsAfterTransient(t *testing.T) {
	r := testRetrier()
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return apierr.Transient("test", errors.New("throttled"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("succeeded after %d calls, want 3", calls)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH, wantW, wantH int
	}{
		{640, 480, 128, 128, 128, 96},
		{480, 640, 128, 128, 96, 128},
		{100, 100, 128, 128, 100, 100},
		{128, 128, 128, 128, 128, 128},
		{4000, 10, 128, 128, 128, 1},
		{10, 4000, 128, 128, 1, 128},
	}
	for _, tt := range tests {
		gotW, gotH := fitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("fitWithin(%d, %d, %d, %d) = (%d, %d), want (%d, %d)",
				tt.w, tt.h, tt.maxW, tt.maxH, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}
