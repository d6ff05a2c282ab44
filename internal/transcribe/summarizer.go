package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
)

// Summarizer produces a prose summary of a call transcript. The pipeline
// treats it as optional and degrades to the heuristic summary on any error.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

const summaryCacheSize = 512

const summarySystemPrompt = "You summarize sales call transcripts for a CRM. " +
	"Write 2-4 sentences covering what the customer wants, objections raised, " +
	"and agreed next steps. Be factual; do not invent details."

// OpenAISummarizer generates summaries with a chat model, caching results by
// a content hash of the transcript so an identical transcript never pays for
// a second completion.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// NewOpenAISummarizer creates a summarizer. baseURL may be empty for the
// default API endpoint.
func NewOpenAISummarizer(apiKey, baseURL, model string) (*OpenAISummarizer, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cache, err := lru.New[string, string](summaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating summary cache: %w", err)
	}

	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		cache:  cache,
		logger: slog.Default().With("component", "summarizer"),
	}, nil
}

// Summarize returns the cached summary for an identical transcript, or calls
// the model and caches the result.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("empty transcript")
	}

	key := contentHash(transcript)
	if cached, ok := s.cache.Get(key); ok {
		s.logger.Debug("summary cache hit", "hash", key[:12])
		return cached, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", fmt.Errorf("querying summarizer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarizer returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.cache.Add(key, summary)
	return summary, nil
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
