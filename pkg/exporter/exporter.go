// Package exporter commits transcript bundles to GitLab or GitHub, or
// renders them as standalone markdown. Tokens live in server-side
// configuration, never in the browser.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConfigured is returned when an export target has no token.
var ErrNotConfigured = errors.New("exporter: target not configured")

// ErrUnknownKind is returned for an unrecognized profile kind.
var ErrUnknownKind = errors.New("exporter: unknown profile kind")

// maxErrorBody bounds how much of a provider error body is surfaced.
const maxErrorBody = 200

// APIError is a non-success response from a git hosting provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("exporter: %s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Clip is one recorded segment inside an export bundle.
type Clip struct {
	ID         string `json:"id"`
	DurationMs int    `json:"duration_ms"`
	Transcript string `json:"transcript"`
}

// Payload is the canonical export bundle.
type Payload struct {
	Timestamp     string `json:"timestamp"`
	AppVersion    string `json:"app_version"`
	Transcript    string `json:"transcript"`
	RawTranscript string `json:"raw_transcript,omitempty"`
	Clips         []Clip `json:"clips"`
}

// Profile is a saved export destination.
type Profile struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Kind            string `json:"kind" yaml:"kind"` // gitlab, github or json
	ProjectID       string `json:"project_id" yaml:"project_id"`
	FilePath        string `json:"file_path" yaml:"file_path"`
	Branch          string `json:"branch" yaml:"branch"`
	GenerateMessage bool   `json:"generate_message" yaml:"generate_message"`
}

// Result describes the outcome of an export.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	URL      string `json:"url,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Summarizer produces a one-line summary for commit messages. The llm
// package's client satisfies it.
type Summarizer interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// FormatPath expands the date placeholders of a file path template.
// Supported: {year} {month} {day} {timestamp} {date} {datetime}.
func FormatPath(template string, now time.Time) string {
	r := strings.NewReplacer(
		"{year}", now.Format("2006"),
		"{month}", now.Format("01"),
		"{day}", now.Format("02"),
		"{timestamp}", now.Format("20060102-150405"),
		"{date}", now.Format("2006-01-02"),
		"{datetime}", now.Format("2006-01-02_150405"),
	)
	return r.Replace(template)
}

// DefaultCommitMessage is used when no message is given or generated.
func DefaultCommitMessage(now time.Time) string {
	return "quickyap export " + now.Format("2006-01-02 15:04:05")
}

// Markdown renders the payload as a markdown document with front matter.
func (p Payload) Markdown(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b, "title: QuickYap Transcript Export\n")
	fmt.Fprintf(&b, "date: %s UTC\n", now.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "app_version: %s\n", p.AppVersion)
	fmt.Fprintf(&b, "clips_count: %d\n", len(p.Clips))
	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "# Transcript\n\n")
	fmt.Fprintf(&b, "%s\n\n", p.Transcript)

	if len(p.Clips) > 0 {
		b.WriteString("\n## Clips\n\n")
		for i, clip := range p.Clips {
			id := clip.ID
			if id == "" {
				id = fmt.Sprintf("clip-%d", i+1)
			}
			fmt.Fprintf(&b, "### Clip %d (%s)\n", i+1, id)
			fmt.Fprintf(&b, "*Duration: %.1fs*\n\n", float64(clip.DurationMs)/1000)
			fmt.Fprintf(&b, "%s\n\n", clip.Transcript)
		}
	}

	return b.String()
}
