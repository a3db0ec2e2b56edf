package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"time"
)

// LiveSource holds the most recent frame pushed by the browser's camera
// stream. It is owned by exactly one session and stopped at logout.
type LiveSource struct {
	mu      sync.Mutex
	frame   image.Image
	at      time.Time
	stopped bool
	maxAge  time.Duration
	now     func() time.Time
}

// NewLiveSource returns an open source. Frames older than maxAge are treated
// as missing; zero disables the check.
func NewLiveSource(maxAge time.Duration) *LiveSource {
	return &LiveSource{maxAge: maxAge, now: time.Now}
}

// Push replaces the current frame.
func (s *LiveSource) Push(img image.Image) error {
	if img == nil {
		return ErrNoFrameAvailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrCameraUnavailable
	}
	s.frame = img
	s.at = s.now()
	return nil
}

// PushEncoded decodes a JPEG or PNG frame and pushes it.
func (s *LiveSource) PushEncoded(data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return s.Push(img)
}

// PushDataURL accepts "data:image/...;base64,..." or bare base64.
func (s *LiveSource) PushDataURL(dataURL string) error {
	payload := dataURL
	if strings.HasPrefix(payload, "data:") {
		i := strings.Index(payload, ",")
		if i < 0 || !strings.Contains(payload[:i], ";base64") {
			return fmt.Errorf("%w: unsupported data url", ErrInvalidFrame)
		}
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return s.PushEncoded(data)
}

// Frame returns the current frame.
func (s *LiveSource) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrCameraUnavailable
	}
	if s.frame == nil {
		return nil, ErrNoFrameAvailable
	}
	if s.maxAge > 0 && s.now().Sub(s.at) > s.maxAge {
		return nil, fmt.Errorf("%w: last frame is %s old", ErrNoFrameAvailable, s.now().Sub(s.at).Round(time.Second))
	}
	return s.frame, nil
}

// Stop releases the device; later pushes and reads fail.
func (s *LiveSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.frame = nil
}

// Active reports whether the source has not been stopped.
func (s *LiveSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}
