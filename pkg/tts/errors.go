package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoBaseURL is returned when the backend URL is missing.
	ErrNoBaseURL = errors.New("tts: base URL required")

	// ErrNoVoice is returned when the voice ID is missing.
	ErrNoVoice = errors.New("tts: voice ID required")

	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: empty text")
)

// maxErrorBody bounds how much of an error response is surfaced to the
// user. Enough to diagnose, not enough to flood the UI.
const maxErrorBody = 100

// SynthesisError is a non-success response from the TTS backend.
type SynthesisError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the (truncated) error message from the backend.
	Body string
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts: backend returned %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the requested voice does not exist.
func (e *SynthesisError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsServerError reports whether this is a server-side failure (HTTP 5xx).
func (e *SynthesisError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NetworkError is a transport-level failure reaching the backend.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("tts: network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// newSynthesisError reads an error response into a SynthesisError,
// extracting the backend's {"error": ...} message when present.
func newSynthesisError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := string(body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}
	if len(message) > maxErrorBody {
		message = message[:maxErrorBody]
	}

	return &SynthesisError{StatusCode: resp.StatusCode, Body: message}
}
