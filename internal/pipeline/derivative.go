package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/metadata"
	"github.com/pixyard/pixyard/internal/storage"
)

// jpegQuality is the encoding quality for derivatives.
const jpegQuality = 85

// DerivativeGenerator consumes a raw image and writes a resized JPEG copy to
// the derivative bucket at the same {owner}/{imageID} key. It is a pure
// function of the raw bytes, so redelivered notifications regenerate the
// same derivative and at-least-once delivery is safe. It never touches the
// metadata store.
type DerivativeGenerator struct {
	store            storage.ObjectStore
	rawBucket        string
	derivativeBucket string
	maxWidth         int
	maxHeight        int
	retrier          *Retrier
}

// NewDerivativeGenerator creates a generator writing derivatives bounded by
// maxWidth x maxHeight, aspect ratio preserved.
func NewDerivativeGenerator(store storage.ObjectStore, rawBucket, derivativeBucket string, maxWidth, maxHeight int, retrier *Retrier) *DerivativeGenerator {
	return &DerivativeGenerator{
		store:            store,
		rawBucket:        rawBucket,
		derivativeBucket: derivativeBucket,
		maxWidth:         maxWidth,
		maxHeight:        maxHeight,
		retrier:          retrier,
	}
}

// Process generates and stores the derivative for one image.
//
// A missing raw object is a non-fatal no-op: the object was deleted between
// the notification and now, and retrying cannot bring it back. Decode
// failures are permanent InvalidInput. Storage I/O failures are transient
// and retried with backoff.
func (g *DerivativeGenerator) Process(ctx context.Context, owner, imageID string) error {
	key := metadata.ObjectKey(owner, imageID)

	var raw []byte
	err := g.retrier.Do(ctx, "derivative", func() error {
		r, _, err := g.store.GetObject(ctx, g.rawBucket, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apierr.NotFound("derivative.fetch", err)
			}
			return apierr.Transient("derivative.fetch", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return apierr.Transient("derivative.fetch", err)
		}
		return nil
	})
	if err != nil {
		if apierr.IsNotFound(err) {
			slog.Info("raw object gone before derivative generation, skipping", "key", key)
			return nil
		}
		return err
	}

	resized, err := g.resize(raw)
	if err != nil {
		return apierr.InvalidInput("derivative.generate", err)
	}

	return g.retrier.Do(ctx, "derivative", func() error {
		err := g.store.PutObject(ctx, g.derivativeBucket, key, bytes.NewReader(resized), int64(len(resized)))
		if err != nil {
			return apierr.Transient("derivative.store", err)
		}
		slog.Debug("derivative written", "key", key, "bytes", len(resized))
		return nil
	})
}

// resize decodes the raw image, scales it to fit the configured bounding box
// preserving aspect ratio, and encodes it as JPEG.
func (g *DerivativeGenerator) resize(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("image has empty bounds")
	}

	dw, dh := fitWithin(w, h, g.maxWidth, g.maxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding derivative: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales (w, h) down to fit inside (maxW, maxH), preserving aspect
// ratio. Images already inside the box keep their size.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	return dw, dh
}
