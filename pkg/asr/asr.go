// Package asr provides a client for Whisper-compatible speech recognition
// services (whisper-asr-webservice and friends).
//
// The backend accepts a multipart upload and returns the transcript:
//
//	POST {base}/asr?task=transcribe&output=json
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrNoBaseURL is returned when the backend URL is missing.
var ErrNoBaseURL = errors.New("asr: base URL required")

// ErrNoAudio is returned when there is nothing to transcribe.
var ErrNoAudio = errors.New("asr: empty audio")

// TranscriptionError is a non-success response from the ASR backend.
type TranscriptionError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("asr: backend returned %d: %s", e.StatusCode, e.Body)
}

// NetworkError is a transport-level failure reaching the backend.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("asr: network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Transcriber is the recognition capability consumed by the web layer.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Client talks to a Whisper-compatible ASR backend.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates an ASR client for the given backend base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "asr")
	return c, nil
}

// Transcribe uploads recorded audio and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio_file", filename)
	if err != nil {
		return "", fmt.Errorf("asr: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("asr: build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("asr: build form: %w", err)
	}

	start := time.Now()
	endpoint := c.baseURL + "/asr?task=transcribe&output=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("asr: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("asr: decode response: %w", err)
	}

	c.logger.Debug("transcribed audio",
		"bytes", len(audio),
		"chars", len(result.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return strings.TrimSpace(result.Text), nil
}

// Verify Client implements Transcriber at compile time.
var _ Transcriber = (*Client)(nil)
