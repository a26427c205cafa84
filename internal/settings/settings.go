// Package settings persists user-tunable preferences to a YAML file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/quickyap/quickyap/pkg/chunker"
	"github.com/quickyap/quickyap/pkg/exporter"
)

// Settings are the persisted user preferences.
type Settings struct {
	ChunkMode        string             `yaml:"chunk_mode" json:"chunk_mode"`
	MaxChunks        int                `yaml:"max_chunks" json:"max_chunks"`
	MaxCharsPerChunk int                `yaml:"max_chars_per_chunk" json:"max_chars_per_chunk"`
	Voice            string             `yaml:"voice" json:"voice"`
	Rate             float64            `yaml:"rate" json:"rate"`
	ChatModel        string             `yaml:"chat_model" json:"chat_model"`
	SystemPrompt     string             `yaml:"system_prompt" json:"system_prompt"`
	ExportProfiles   []exporter.Profile `yaml:"export_profiles" json:"export_profiles"`
}

// Defaults returns the settings used before the user changes anything.
func Defaults() Settings {
	return Settings{
		ChunkMode:        string(chunker.ModeParagraph),
		MaxChunks:        chunker.DefaultMaxChunks,
		MaxCharsPerChunk: chunker.DefaultMaxCharsPerChunk,
		Rate:             1.0,
		ChatModel:        "llama3.2",
		SystemPrompt:     "You are a helpful assistant. Keep answers short and conversational.",
	}
}

// Store is a file-backed settings store safe for concurrent use.
type Store struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// NewStore opens (or initializes) the settings file at path. A missing
// file yields defaults; it is created on the first Update.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, settings: Defaults()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	s.normalize()
	return s, nil
}

// normalize fills in zero values left by a hand-edited file.
func (s *Store) normalize() {
	def := Defaults()
	if s.settings.ChunkMode != string(chunker.ModeParagraph) && s.settings.ChunkMode != string(chunker.ModeLine) {
		s.settings.ChunkMode = def.ChunkMode
	}
	if s.settings.MaxChunks <= 0 {
		s.settings.MaxChunks = def.MaxChunks
	}
	if s.settings.MaxCharsPerChunk <= 0 {
		s.settings.MaxCharsPerChunk = def.MaxCharsPerChunk
	}
	if s.settings.Rate <= 0 {
		s.settings.Rate = def.Rate
	}
	if s.settings.ChatModel == "" {
		s.settings.ChatModel = def.ChatModel
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.settings
	out.ExportProfiles = append([]exporter.Profile(nil), s.settings.ExportProfiles...)
	return out
}

// Update applies fn to the settings under the lock and persists the
// result. The file write is atomic (temp file plus rename).
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings
	updated.ExportProfiles = append([]exporter.Profile(nil), s.settings.ExportProfiles...)
	fn(&updated)

	data, err := yaml.Marshal(updated)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}

	s.settings = updated
	return nil
}
