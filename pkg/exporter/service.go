package exporter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service dispatches exports to the configured targets.
type Service struct {
	gitlabURL    string
	gitlabToken  string
	githubAPIURL string
	githubToken  string

	summarizer Summarizer
	model      string

	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGitLab enables the GitLab target.
func WithGitLab(baseURL, token string) ServiceOption {
	return func(s *Service) {
		s.gitlabURL = strings.TrimRight(baseURL, "/")
		s.gitlabToken = token
	}
}

// WithGitHub enables the GitHub target.
func WithGitHub(apiURL, token string) ServiceOption {
	return func(s *Service) {
		s.githubAPIURL = strings.TrimRight(apiURL, "/")
		s.githubToken = token
	}
}

// WithSummarizer enables LLM-generated commit messages.
func WithSummarizer(sum Summarizer, model string) ServiceOption {
	return func(s *Service) {
		s.summarizer = sum
		s.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) {
		s.client = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an export service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		gitlabURL:    "https://gitlab.com",
		githubAPIURL: "https://api.github.com",
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "exporter")
	return s
}

// Export commits the payload according to the profile. An explicit
// commitMessage wins; otherwise one is generated when the profile asks
// for it, falling back to the timestamped default.
func (s *Service) Export(ctx context.Context, profile Profile, payload Payload, commitMessage string) (*Result, error) {
	now := s.now().UTC()
	path := FormatPath(profile.FilePath, now)
	content := payload.Markdown(now)

	branch := profile.Branch
	if branch == "" {
		branch = "main"
	}

	if commitMessage == "" {
		if profile.GenerateMessage {
			commitMessage = s.generateMessage(ctx, payload.Transcript, now)
		}
		if commitMessage == "" {
			commitMessage = DefaultCommitMessage(now)
		}
	}

	switch profile.Kind {
	case "gitlab":
		return s.gitlabCommit(ctx, profile.ProjectID, path, branch, content, commitMessage)
	case "github":
		return s.githubCommit(ctx, profile.ProjectID, path, branch, content, commitMessage)
	case "json":
		return &Result{Success: true, Message: "Rendered export", FilePath: path, Content: content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, profile.Kind)
	}
}

// generateMessage asks the summarizer for a short commit message. Any
// failure falls back silently to the default.
func (s *Service) generateMessage(ctx context.Context, transcript string, now time.Time) string {
	if s.summarizer == nil {
		return ""
	}
	excerpt := transcript
	if len(excerpt) > 1000 {
		excerpt = excerpt[:1000]
	}
	prompt := "Generate a very short (max 50 chars) commit message summarizing this transcript. " +
		"Just output the message, no quotes or explanation:\n\n" + excerpt

	summary, err := s.summarizer.Generate(ctx, s.model, prompt)
	if err != nil {
		s.logger.Warn("commit message generation failed", "error", err)
		return ""
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	if len(summary) > 50 {
		summary = summary[:50]
	}
	return fmt.Sprintf("quickyap export: %s (%s)", summary, now.Format("2006-01-02 15:04"))
}

// gitlabCommit creates or updates a repository file via the GitLab v4
// files API. An existing file is updated with PUT, a new one created
// with POST.
func (s *Service) gitlabCommit(ctx context.Context, projectID, path, branch, content, message string) (*Result, error) {
	if s.gitlabToken == "" {
		return nil, fmt.Errorf("%w: gitlab", ErrNotConfigured)
	}

	apiURL := fmt.Sprintf("%s/api/v4/projects/%s/repository/files/%s",
		s.gitlabURL,
		url.PathEscape(projectID),
		url.PathEscape(path),
	)

	exists, err := s.gitlabFileExists(ctx, apiURL, branch)
	if err != nil {
		return nil, err
	}

	method := http.MethodPost
	if exists {
		method = http.MethodPut
	}

	body, _ := json.Marshal(map[string]string{
		"branch":         branch,
		"content":        content,
		"commit_message": message,
	})
	req, err := http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("exporter: create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", s.gitlabToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exporter: gitlab request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, s.apiError("GitLab", resp)
	}

	s.logger.Info("committed export to gitlab", "project", projectID, "path", path)
	return &Result{
		Success:  true,
		Message:  "Successfully committed to GitLab",
		URL:      fmt.Sprintf("%s/%s/-/blob/%s/%s", s.gitlabURL, projectID, branch, path),
		FilePath: path,
	}, nil
}

func (s *Service) gitlabFileExists(ctx context.Context, apiURL, branch string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?ref="+url.QueryEscape(branch), nil)
	if err != nil {
		return false, fmt.Errorf("exporter: create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", s.gitlabToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("exporter: gitlab request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode == http.StatusOK, nil
}

// githubCommit creates or updates a repository file via the GitHub
// contents API. Updating requires the blob SHA of the existing file.
func (s *Service) githubCommit(ctx context.Context, repo, path, branch, content, message string) (*Result, error) {
	if s.githubToken == "" {
		return nil, fmt.Errorf("%w: github", ErrNotConfigured)
	}

	apiURL := fmt.Sprintf("%s/repos/%s/contents/%s", s.githubAPIURL, repo, path)

	sha, err := s.githubFileSHA(ctx, apiURL, branch)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("exporter: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.githubToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exporter: github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, s.apiError("GitHub", resp)
	}

	var result struct {
		Content struct {
			HTMLURL string `json:"html_url"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("exporter: decode response: %w", err)
	}

	s.logger.Info("committed export to github", "repo", repo, "path", path)
	return &Result{
		Success:  true,
		Message:  "Successfully committed to GitHub",
		URL:      result.Content.HTMLURL,
		FilePath: path,
	}, nil
}

func (s *Service) githubFileSHA(ctx context.Context, apiURL, branch string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?ref="+url.QueryEscape(branch), nil)
	if err != nil {
		return "", fmt.Errorf("exporter: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.githubToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exporter: github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", nil
	}

	var existing struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&existing); err != nil {
		return "", fmt.Errorf("exporter: decode response: %w", err)
	}
	return existing.SHA, nil
}

func (s *Service) apiError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}
