package web

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/quickyap/quickyap/internal/settings"
	"github.com/quickyap/quickyap/pkg/chunker"
	"github.com/quickyap/quickyap/pkg/exporter"
	"github.com/quickyap/quickyap/pkg/llm"
	"github.com/quickyap/quickyap/pkg/tts"
)

// errorJSON is the uniform error body for all API endpoints.
func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// handleHealth reports reachability of the backends.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ttsOK := false
	if s.speech != nil {
		ttsOK = s.speech.Health(c.Context()) == nil
	}
	return c.JSON(fiber.Map{
		"status":             "ok",
		"tts_ok":             ttsOK,
		"asr_configured":     s.asr != nil,
		"chat_configured":    s.chat != nil,
		"exports_configured": s.exports != nil,
	})
}

// handleVoices lists the voices installed on the TTS backend.
func (s *Server) handleVoices(c *fiber.Ctx) error {
	if s.speech == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "TTS not configured")
	}
	voices, err := s.speech.Voices(c.Context())
	if err != nil {
		s.logger.Error("voice listing failed", "error", err)
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(voices)
}

// TTSRequest is the body of POST /api/tts.
type TTSRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"`
}

// handleTTS synthesizes one utterance and returns the WAV bytes.
func (s *Server) handleTTS(c *fiber.Ctx) error {
	if s.speech == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "TTS not configured")
	}

	var req TTSRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	cfg := s.store.Get()
	if req.Voice == "" {
		req.Voice = cfg.Voice
	}
	if req.Rate == 0 {
		req.Rate = cfg.Rate
	}

	audio, err := s.speech.Synthesize(c.Context(), req.Text, req.Voice, req.Rate)
	if err != nil {
		switch {
		case errors.Is(err, tts.ErrEmptyText), errors.Is(err, tts.ErrNoVoice):
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		default:
			s.logger.Error("synthesis failed", "error", err)
			return errorJSON(c, fiber.StatusBadGateway, err.Error())
		}
	}

	c.Set("Content-Type", "audio/wav")
	return c.Send(audio)
}

// handleASR transcribes an uploaded recording.
func (s *Server) handleASR(c *fiber.Ctx) error {
	if s.asr == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "ASR not configured")
	}

	header, err := c.FormFile("audio_file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "audio_file part required")
	}
	file, err := header.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "could not read upload")
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "could not read upload")
	}

	text, err := s.asr.Transcribe(c.Context(), audio, header.Filename)
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"text": text})
}

// ChatRequest is the body of POST /api/chat. Model defaults to the
// configured chat model; a system prompt is injected when the
// conversation carries none.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

// handleChat forwards a conversation to the LLM backend.
func (s *Server) handleChat(c *fiber.Ctx) error {
	if s.chat == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "chat not configured")
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "messages required")
	}

	cfg := s.store.Get()
	if req.Model == "" {
		req.Model = cfg.ChatModel
	}
	messages := req.Messages
	if cfg.SystemPrompt != "" && messages[0].Role != "system" {
		messages = append([]llm.Message{{Role: "system", Content: cfg.SystemPrompt}}, messages...)
	}

	reply, err := s.chat.Chat(c.Context(), llm.ChatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		s.logger.Error("chat failed", "error", err, "model", req.Model)
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"reply": reply, "model": req.Model})
}

// handleModels lists the models installed on the LLM backend.
func (s *Server) handleModels(c *fiber.Ctx) error {
	if s.chat == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "chat not configured")
	}
	models, err := s.chat.Models(c.Context())
	if err != nil {
		s.logger.Error("model listing failed", "error", err)
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"models": models})
}

// handleGetSettings returns the persisted preferences.
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(s.store.Get())
}

// SettingsUpdate carries the mutable subset of settings. Pointers
// distinguish "absent" from zero values.
type SettingsUpdate struct {
	ChunkMode        *string  `json:"chunk_mode"`
	MaxChunks        *int     `json:"max_chunks"`
	MaxCharsPerChunk *int     `json:"max_chars_per_chunk"`
	Voice            *string  `json:"voice"`
	Rate             *float64 `json:"rate"`
	ChatModel        *string  `json:"chat_model"`
	SystemPrompt     *string  `json:"system_prompt"`
}

// handlePutSettings applies a partial settings update.
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	var req SettingsUpdate
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ChunkMode != nil && *req.ChunkMode != string(chunker.ModeParagraph) && *req.ChunkMode != string(chunker.ModeLine) {
		return errorJSON(c, fiber.StatusBadRequest, "chunk_mode must be paragraph or line")
	}
	if req.Rate != nil && (*req.Rate < tts.MinRate || *req.Rate > tts.MaxRate) {
		return errorJSON(c, fiber.StatusBadRequest, "rate must be between 0.5 and 2.0")
	}

	err := s.store.Update(func(cfg *settings.Settings) {
		if req.ChunkMode != nil {
			cfg.ChunkMode = *req.ChunkMode
		}
		if req.MaxChunks != nil && *req.MaxChunks > 0 {
			cfg.MaxChunks = *req.MaxChunks
		}
		if req.MaxCharsPerChunk != nil && *req.MaxCharsPerChunk > 0 {
			cfg.MaxCharsPerChunk = *req.MaxCharsPerChunk
		}
		if req.Voice != nil {
			cfg.Voice = *req.Voice
		}
		if req.Rate != nil {
			cfg.Rate = *req.Rate
		}
		if req.ChatModel != nil {
			cfg.ChatModel = *req.ChatModel
		}
		if req.SystemPrompt != nil {
			cfg.SystemPrompt = *req.SystemPrompt
		}
	})
	if err != nil {
		s.logger.Error("settings update failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "could not persist settings")
	}
	return c.JSON(s.store.Get())
}

// handleListExports returns the saved export profiles.
func (s *Server) handleListExports(c *fiber.Ctx) error {
	return c.JSON(s.store.Get().ExportProfiles)
}

// handleAddExport saves a new export profile.
func (s *Server) handleAddExport(c *fiber.Ctx) error {
	var profile exporter.Profile
	if err := c.BodyParser(&profile); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if profile.Kind != "gitlab" && profile.Kind != "github" && profile.Kind != "json" {
		return errorJSON(c, fiber.StatusBadRequest, "kind must be gitlab, github or json")
	}
	if profile.FilePath == "" {
		return errorJSON(c, fiber.StatusBadRequest, "file_path required")
	}

	profile.ID = uuid.NewString()
	if profile.Branch == "" {
		profile.Branch = "main"
	}

	err := s.store.Update(func(cfg *settings.Settings) {
		cfg.ExportProfiles = append(cfg.ExportProfiles, profile)
	})
	if err != nil {
		s.logger.Error("profile save failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "could not persist profile")
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

// handleDeleteExport removes a saved export profile.
func (s *Server) handleDeleteExport(c *fiber.Ctx) error {
	id := c.Params("id")
	found := false
	err := s.store.Update(func(cfg *settings.Settings) {
		kept := cfg.ExportProfiles[:0]
		for _, p := range cfg.ExportProfiles {
			if p.ID == id {
				found = true
				continue
			}
			kept = append(kept, p)
		}
		cfg.ExportProfiles = kept
	})
	if err != nil {
		s.logger.Error("profile delete failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "could not persist profiles")
	}
	if !found {
		return errorJSON(c, fiber.StatusNotFound, "profile not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SendExportRequest is the body of POST /api/exports/:id/send.
type SendExportRequest struct {
	Payload       exporter.Payload `json:"payload"`
	CommitMessage string           `json:"commit_message"`
}

// handleSendExport runs an export through a saved profile.
func (s *Server) handleSendExport(c *fiber.Ctx) error {
	if s.exports == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "exports not configured")
	}

	id := c.Params("id")
	var profile *exporter.Profile
	for _, p := range s.store.Get().ExportProfiles {
		if p.ID == id {
			profile = &p
			break
		}
	}
	if profile == nil {
		return errorJSON(c, fiber.StatusNotFound, "profile not found")
	}

	var req SendExportRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := s.exports.Export(c.Context(), *profile, req.Payload, req.CommitMessage)
	if err != nil {
		var apiErr *exporter.APIError
		switch {
		case errors.Is(err, exporter.ErrNotConfigured):
			return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
		case errors.As(err, &apiErr):
			s.logger.Error("export rejected by provider", "provider", apiErr.Provider, "status", apiErr.StatusCode)
			return errorJSON(c, fiber.StatusBadGateway, err.Error())
		default:
			s.logger.Error("export failed", "error", err)
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(result)
}
