// Package config provides environment configuration for quickyap commands.
package config

import "os"

// Defaults for backend endpoints and the server itself.
const (
	DefaultAddr         = ":8080"
	DefaultTTSURL       = "http://localhost:5000"
	DefaultASRURL       = "http://localhost:9000"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultChatModel    = "llama3.2"
	DefaultSettingsPath = "quickyap.yaml"
	DefaultGitLabURL    = "https://gitlab.com"
	DefaultGitHubAPIURL = "https://api.github.com"
)

// Config holds server configuration resolved from the environment.
type Config struct {
	Addr         string
	TTSURL       string
	ASRURL       string
	OllamaURL    string
	ChatModel    string
	SettingsPath string
	LogLevel     string

	// Export backends. Empty token means the backend is not configured.
	GitLabURL    string
	GitLabToken  string
	GitHubAPIURL string
	GitHubToken  string

	// Comma-separated CORS origins, empty allows all (dev default).
	CORSOrigins string
}

// FromEnv builds a Config from environment variables, applying defaults
// for anything unset.
func FromEnv() Config {
	return Config{
		Addr:         getenv("QUICKYAP_ADDR", DefaultAddr),
		TTSURL:       getenv("TTS_URL", DefaultTTSURL),
		ASRURL:       getenv("ASR_URL", DefaultASRURL),
		OllamaURL:    getenv("OLLAMA_URL", DefaultOllamaURL),
		ChatModel:    getenv("DEFAULT_MODEL", DefaultChatModel),
		SettingsPath: getenv("SETTINGS_PATH", DefaultSettingsPath),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		GitLabURL:    getenv("GITLAB_URL", DefaultGitLabURL),
		GitLabToken:  os.Getenv("GITLAB_TOKEN"),
		GitHubAPIURL: getenv("GITHUB_API_URL", DefaultGitHubAPIURL),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		CORSOrigins:  os.Getenv("CORS_ORIGINS"),
	}
}

// getenv returns the env var value or the fallback if unset.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
