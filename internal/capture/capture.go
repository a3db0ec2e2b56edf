// Package capture turns webcam frames into stored JPEG artifacts.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"path"
	"strings"
	"time"
)

var (
	ErrNoFrameAvailable  = errors.New("no camera frame available")
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrUploadFailed      = errors.New("image upload failed")
	ErrInvalidFrame      = errors.New("frame is not a decodable jpeg or png")
)

// Source is a live camera handle.
type Source interface {
	Frame() (image.Image, error)
	Stop()
}

// ObjectStorage persists blobs and returns a fetchable URL.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ImageBlob is an encoded snapshot.
type ImageBlob struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Pipeline captures frames and uploads them.
type Pipeline struct {
	storage ObjectStorage
	prefix  string
	quality int
}

// NewPipeline builds a pipeline writing under prefix.
func NewPipeline(storage ObjectStorage, prefix string, quality int) *Pipeline {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Pipeline{storage: storage, prefix: strings.Trim(prefix, "/"), quality: quality}
}

// CaptureFrame copies the source's current frame into a buffer of the same
// resolution and encodes it as JPEG.
func (p *Pipeline) CaptureFrame(src Source) (*ImageBlob, error) {
	if src == nil {
		return nil, ErrNoFrameAvailable
	}
	frame, err := src.Frame()
	if err != nil {
		return nil, err
	}
	b := frame.Bounds()
	if b.Empty() {
		return nil, ErrNoFrameAvailable
	}
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), frame, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return &ImageBlob{Data: buf.Bytes(), ContentType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// Upload stores blob under key. Failures are returned as-is, never retried.
func (p *Pipeline) Upload(ctx context.Context, blob *ImageBlob, key string) (string, error) {
	if blob == nil || len(blob.Data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUploadFailed)
	}
	url, err := p.storage.Put(ctx, key, blob.Data, blob.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return url, nil
}

// Key derives the object key for a capture by username at t. The millisecond
// timestamp keeps keys unique for rapid repeated captures.
func (p *Pipeline) Key(username string, t time.Time) string {
	name := fmt.Sprintf("%s-%d", safeName(username), t.UnixMilli())
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}
