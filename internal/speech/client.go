// Package speech calls the transcription microservice used for voice login
// and registration.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnsupported = errors.New("speech recognition not supported")
	ErrRecognition = errors.New("speech could not be recognized")
)

// Clip is one recorded utterance.
type Clip struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Transcriber turns one clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip Clip) (string, error)
}

// Client calls the transcription service.
type Client struct {
	BaseURL  string
	Language string
	HTTP     *http.Client
	Skip     bool
}

// New creates a client. With skip set, clips are read as UTF-8 text instead
// of being sent anywhere.
func New(baseURL, language string, skip bool) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Language: language,
		Skip:     skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transcribe returns the trimmed transcript of clip.
func (c *Client) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if c.Skip {
		return nonEmpty(string(clip.Data))
	}
	if c.BaseURL == "" {
		return "", ErrUnsupported
	}
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("%w: empty clip", ErrRecognition)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("language", c.Language)
	name := clip.Filename
	if name == "" {
		name = "clip.webm"
	}
	part, err := w.CreateFormFile("audio", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: speech service request failed: %w", ErrRecognition, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNotImplemented:
		return "", ErrUnsupported
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: speech service error %s: %s", ErrRecognition, resp.Status, string(bodyBytes))
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrRecognition, err)
	}
	return nonEmpty(out.Transcript)
}

// Health checks if the speech service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	if c.BaseURL == "" {
		return ErrUnsupported
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("speech service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("speech service unhealthy: %s", resp.Status)
	}
	return nil
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrRecognition)
	}
	return s, nil
}

// Credentials transcribes the username clip and then the password clip. The
// second call is not made if the first fails.
func Credentials(ctx context.Context, t Transcriber, username, password Clip) (string, string, error) {
	if t == nil {
		return "", "", ErrUnsupported
	}
	user, err := t.Transcribe(ctx, username)
	if err != nil {
		return "", "", fmt.Errorf("username: %w", err)
	}
	pass, err := t.Transcribe(ctx, password)
	if err != nil {
		return "", "", fmt.Errorf("password: %w", err)
	}
	return user, pass, nil
}
