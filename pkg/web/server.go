// Package web exposes the HTTP and WebSocket surface of the service:
// REST endpoints for synthesis, transcription, chat, settings and
// exports, plus the read-along WebSocket session.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/quickyap/quickyap/internal/settings"
	"github.com/quickyap/quickyap/pkg/exporter"
	"github.com/quickyap/quickyap/pkg/llm"
)

// Speech is the synthesis capability the server needs.
type Speech interface {
	Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error)
	Voices(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Chat is the conversational capability the server needs.
type Chat interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
	Models(ctx context.Context) ([]llm.Model, error)
}

// Exporter commits transcript bundles to a configured destination.
type Exporter interface {
	Export(ctx context.Context, profile exporter.Profile, payload exporter.Payload, commitMessage string) (*exporter.Result, error)
}

// Deps are the capabilities the server is wired with. Chat and Exports
// may be nil; their endpoints then report 503.
type Deps struct {
	Speech  Speech
	ASR     Transcriber
	Chat    Chat
	Exports Exporter
	Store   *settings.Store
	Logger  *slog.Logger

	// CORSOrigins restricts browser origins. Empty allows all, which is
	// only appropriate behind a local reverse proxy.
	CORSOrigins string
}

// Server is the HTTP front of the service.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	speech  Speech
	asr     Transcriber
	chat    Chat
	exports Exporter
	store   *settings.Store
}

// NewServer assembles the fiber app and its routes.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:    addr,
		logger:  logger.With("component", "web"),
		speech:  deps.Speech,
		asr:     deps.ASR,
		chat:    deps.Chat,
		exports: deps.Exports,
		store:   deps.Store,
	}

	app := fiber.New(fiber.Config{
		AppName:               "QuickYap",
		DisableStartupMessage: true,
		BodyLimit:             32 * 1024 * 1024, // recorded audio uploads
	})

	app.Use(cors.New(cors.Config{AllowOrigins: corsOrigins(deps.CORSOrigins)}))

	app.Static("/", "./web")

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/voices", s.handleVoices)
	api.Post("/tts", s.handleTTS)
	api.Post("/asr", s.handleASR)
	api.Post("/chat", s.handleChat)
	api.Get("/models", s.handleModels)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)
	api.Get("/exports", s.handleListExports)
	api.Post("/exports", s.handleAddExport)
	api.Delete("/exports/:id", s.handleDeleteExport)
	api.Post("/exports/:id/send", s.handleSendExport)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/readalong", websocket.New(s.handleReadAlongWS))

	s.app = app
	return s
}

func corsOrigins(origins string) string {
	if origins == "" {
		return "*"
	}
	return origins
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("http server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithContext(context.Background())
}
