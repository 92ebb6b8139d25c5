package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
)

// DefaultPerplexityURL is the chat-completions endpoint.
const DefaultPerplexityURL = "https://api.perplexity.ai/chat/completions"

// DefaultPerplexityModels are tried in order until one answers with a category.
var DefaultPerplexityModels = []string{
	"llama-3.1-sonar-small-128k-online",
	"sonar-small-online",
	"llama-3.1-sonar-small-128k",
	"mistral-7b-instruct",
}

const intentSystemPrompt = "You are a DeFi assistant intent classifier. Classify user messages into one of: " +
	"'credit' (for loans/borrowing), 'rwa' (for tokenization), 'trade' (for trading/swapping), " +
	"'automation' (for portfolio management). Respond with ONLY the category name, nothing else."

// PerplexityClassifier classifies intents with the Perplexity chat API.
type PerplexityClassifier struct {
	APIKey string
	URL    string
	Models []string
	HTTP   *http.Client
}

// NewPerplexityClassifier creates a classifier for apiKey with a 5s timeout.
func NewPerplexityClassifier(apiKey string) *PerplexityClassifier {
	return &PerplexityClassifier{
		APIKey: apiKey,
		URL:    DefaultPerplexityURL,
		Models: DefaultPerplexityModels,
		HTTP:   &http.Client{Timeout: 5 * time.Second},
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

// Classify implements TextClassifier.
func (p *PerplexityClassifier) Classify(ctx context.Context, text string) (domain.Category, error) {
	for _, model := range p.Models {
		intent, err := p.ask(ctx, model, text)
		if err != nil {
			slog.Debug("perplexity model failed, trying next", "model", model, "error", err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if intent.Valid() {
			slog.Info("perplexity detected intent", "model", model, "intent", intent)
			return intent, nil
		}
	}
	return "", ErrNoIntent
}

func (p *PerplexityClassifier) ask(ctx context.Context, model, text string) (domain.Category, error) {
	body, err := json.Marshal(completionRequest{
		Model: model,
		Messages: []completionMessage{
			{Role: "system", Content: intentSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		if resp.StatusCode != http.StatusBadRequest {
			slog.Warn("perplexity API error", "model", model, "status", resp.StatusCode, "body", string(snippet))
		}
		return "", fmt.Errorf("perplexity returned %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrNoIntent
	}
	fields := strings.Fields(strings.ToLower(out.Choices[0].Message.Content))
	if len(fields) == 0 {
		return "", ErrNoIntent
	}
	return domain.Category(fields[0]), nil
}
