// quickyapd is the QuickYap server: it fronts the Piper TTS, Whisper ASR
// and Ollama backends, persists user settings, and serves the read-along
// WebSocket endpoint.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quickyap/quickyap/internal/config"
	"github.com/quickyap/quickyap/internal/httpc"
	"github.com/quickyap/quickyap/internal/log"
	"github.com/quickyap/quickyap/internal/settings"
	"github.com/quickyap/quickyap/pkg/asr"
	"github.com/quickyap/quickyap/pkg/exporter"
	"github.com/quickyap/quickyap/pkg/llm"
	"github.com/quickyap/quickyap/pkg/tts"
	"github.com/quickyap/quickyap/pkg/web"
)

func main() {
	godotenv.Load()
	cfg := config.FromEnv()
	log.Init(cfg.LogLevel)
	logger := log.L()

	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		logger.Error("settings store failed", "error", err, "path", cfg.SettingsPath)
		os.Exit(1)
	}

	speech, err := tts.NewClient(
		tts.WithBaseURL(cfg.TTSURL),
		tts.WithLogger(logger),
	)
	if err != nil {
		logger.Error("tts client failed", "error", err)
		os.Exit(1)
	}
	defer speech.Close()

	transcriber, err := asr.NewClient(cfg.ASRURL, asr.WithLogger(logger))
	if err != nil {
		logger.Error("asr client failed", "error", err)
		os.Exit(1)
	}

	chat, err := llm.NewClient(cfg.OllamaURL,
		llm.WithLogger(logger),
		llm.WithHTTPClient(httpc.NewClient(120*time.Second)),
	)
	if err != nil {
		logger.Error("llm client failed", "error", err)
		os.Exit(1)
	}

	exports := exporter.NewService(
		exporter.WithGitLab(cfg.GitLabURL, cfg.GitLabToken),
		exporter.WithGitHub(cfg.GitHubAPIURL, cfg.GitHubToken),
		exporter.WithSummarizer(chat, cfg.ChatModel),
		exporter.WithHTTPClient(httpc.Client),
		exporter.WithLogger(logger),
	)

	server := web.NewServer(cfg.Addr, web.Deps{
		Speech:      speech,
		ASR:         transcriber,
		Chat:        chat,
		Exports:     exports,
		Store:       store,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	go func() {
		if err := server.Listen(); err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
