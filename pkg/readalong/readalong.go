// Package readalong orchestrates chunk-by-chunk speech synthesis and
// playback for the read-along feature.
//
// The engine synthesizes chunks strictly in index order, one request at a
// time, and plays them strictly in index order, one chunk at a time. The
// two loops run concurrently: as soon as chunk 0's audio is ready, it
// starts playing while chunk 1 is synthesized in the background. This
// pipelining is what lets the user hear audio before the whole document
// has been synthesized.
//
// The engine has no dependency on a media API. Playback is injected via
// a PlaybackFactory, so it runs headless in tests and drives a browser
// audio element over WebSocket in production (see pkg/web).
package readalong

import (
	"context"
	"errors"
	"fmt"
)

// Status describes the lifecycle of a read-along run.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusSynthesizing Status = "synthesizing"
	StatusPlaying      Status = "playing"
	StatusPaused       Status = "paused"
	StatusComplete     Status = "complete"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// terminal reports whether no further transitions can happen.
func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusStopped || s == StatusError
}

// Progress phases reported to the presenter.
const (
	PhaseSynthesizing = "synthesizing"
	PhasePlaying      = "playing"
)

// NoChunk is the currentIndex sentinel when nothing is active.
const NoChunk = -1

// Chunk is an ordered narration unit. Chunks are immutable once created;
// Index is the 0-based position in the read-along sequence.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Chunks wraps a list of chunk texts (usually from pkg/chunker) into
// indexed Chunks.
func Chunks(texts []string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Index: i, Text: t}
	}
	return chunks
}

// Synthesizer produces audio for one chunk. pkg/tts.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error)
}

// Playback is the playable handle for one chunk of audio. The engine
// never creates these itself; a PlaybackFactory hands it one per chunk.
//
// Implementations must tolerate Stop and Close being called more than
// once, and after each other, without error.
type Playback interface {
	// Play begins playback. It must not block until the audio ends;
	// completion is signaled through Done.
	Play() error

	// Pause suspends playback without discarding buffered state.
	Pause()

	// Resume continues from the paused position.
	Resume()

	// Done yields exactly one value when playback finishes: nil on
	// normal end-of-media, non-nil on decode/play failure. It never
	// yields after Stop.
	Done() <-chan error

	// Stop halts playback immediately.
	Stop()

	// Close releases the underlying audio resource.
	Close() error
}

// PlaybackFactory creates the playback primitive for a chunk's audio.
// The returned Playback owns the audio bytes until Close.
type PlaybackFactory func(chunk Chunk, audio []byte) (Playback, error)

// ErrNoChunks is returned by Start when there is nothing to play.
var ErrNoChunks = errors.New("readalong: no chunks to play")

// PlaybackError wraps an audio primitive failure for one chunk. It aborts
// the run the same way a synthesis failure does.
type PlaybackError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	return fmt.Sprintf("readalong: playback of chunk %d failed: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *PlaybackError) Unwrap() error {
	return e.Err
}
