package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// DefaultSummaryTimeout bounds a single summarization call.
const DefaultSummaryTimeout = 60 * time.Second

// SummaryRequest is what the prototype generator asks the collaborator for.
type SummaryRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Images       []Image
}

// Summarizer adapts a Provider to the summarization contract: one prompt
// in, text out, with a bounded timeout. Every failure is reported as
// event.ErrCollaboratorUnavailable so callers can degrade uniformly.
type Summarizer struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSummarizer wraps provider. A nil provider yields a Summarizer that is
// always unavailable.
func NewSummarizer(provider Provider, timeout time.Duration, logger *slog.Logger) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{provider: provider, timeout: timeout, logger: logger}
}

// Generate runs one completion. Images are dropped for providers that do
// not accept them.
func (s *Summarizer) Generate(ctx context.Context, req SummaryRequest) (string, error) {
	if s == nil || s.provider == nil {
		return "", fmt.Errorf("%w: no provider configured", event.ErrCollaboratorUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user := Message{Role: RoleUser, Content: req.Prompt}
	if SupportsImages(s.provider) {
		user.Images = req.Images
	}
	messages := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, user)

	start := time.Now()
	resp, err := s.provider.Complete(ctx, CompletionRequest{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s", event.ErrCollaboratorUnavailable, s.provider.Name(), s.timeout)
		}
		return "", fmt.Errorf("%w: %s: %v", event.ErrCollaboratorUnavailable, s.provider.Name(), err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned an empty response", event.ErrCollaboratorUnavailable, s.provider.Name())
	}

	s.logger.Info("summary generated",
		"provider", s.provider.Name(),
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"cost_usd", EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"images", len(user.Images))
	return text, nil
}
