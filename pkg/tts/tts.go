// Package tts provides a client for Piper-compatible text-to-speech
// services.
//
// The backend exposes one synthesis endpoint per voice, returning a
// complete WAV buffer per request:
//
//	POST {base}/synthesize/{voice}?length_scale={rate}
//
// plus /voices and /health. The client is stateless: each call is an
// independent HTTP request with no retry. Pacing, pipelining, and retry
// policy belong to the caller (see pkg/readalong).
//
// Example usage:
//
//	client, _ := tts.NewClient(tts.WithBaseURL("http://localhost:5000"))
//	audio, _ := client.Synthesize(ctx, "Hello world", "en_US-amy-medium", 1.0)
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Narration rate bounds. length_scale outside this range produces audio
// that is unintelligible or absurdly slow, so values are clamped.
const (
	MinRate = 0.5
	MaxRate = 2.0
)

// Synthesizer is the synthesis capability consumed by the read-along
// pipeline. Client implements it; tests use Mock.
type Synthesizer interface {
	// Synthesize converts text to audio with the given voice and rate,
	// returning the complete audio buffer (WAV).
	Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error)
}

// Client talks to a Piper-compatible TTS backend.
type Client struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a new TTS client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config: cfg,
		client: httpClient,
		logger: cfg.Logger.With("component", "tts"),
	}, nil
}

// Synthesize converts text to audio via one HTTP call. The rate is a
// length_scale multiplier clamped to [MinRate, MaxRate]; zero means 1.0.
// Non-2xx responses yield a *SynthesisError, transport failures a
// *NetworkError.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voiceID == "" {
		return nil, ErrNoVoice
	}

	start := time.Now()
	endpoint := fmt.Sprintf("%s/synthesize/%s?length_scale=%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(voiceID),
		strconv.FormatFloat(ClampRate(rate), 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newSynthesisError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds(),
		"voice", voiceID,
	)

	return audio, nil
}

// Voices lists the voices available on the backend.
func (c *Client) Voices(ctx context.Context) ([]string, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newSynthesisError(resp)
	}

	var voices []string
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("tts: decode voices: %w", err)
	}
	return voices, nil
}

// Health checks backend connectivity.
func (c *Client) Health(ctx context.Context) error {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("tts: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newSynthesisError(resp)
	}
	return nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// ClampRate bounds a narration rate to [MinRate, MaxRate]; zero maps to 1.0.
func ClampRate(rate float64) float64 {
	if rate == 0 {
		return 1.0
	}
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

// Verify Client implements Synthesizer at compile time.
var _ Synthesizer = (*Client)(nil)
