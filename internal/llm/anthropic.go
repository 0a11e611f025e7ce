package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModel       = "claude-3-5-haiku-20241022"
	anthropicVersion     = "2023-06-01"
)

type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) complete(ctx context.Context, messages []anthropicMessage, maxTokens int) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     anthropicModel,
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("anthropic request: %w", domain.ErrCollaboratorTimeout)
		}
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", result.Error.Message)
	}

	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic API returned no content")
	}

	return strings.TrimSpace(result.Content[0].Text), nil
}

func (c *AnthropicClient) SynthesizeSession(ctx context.Context, interactions []*domain.Interaction) (*domain.SessionSynthesis, error) {
	prompt := fmt.Sprintf(synthesizePrompt, formatInteractions(interactions))
	raw, err := c.complete(ctx, []anthropicMessage{{Role: "user", Content: prompt}}, 2048)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var synthesis domain.SessionSynthesis
	if err := decodeStrict(raw, &synthesis); err != nil {
		return nil, err
	}
	return &synthesis, nil
}

func (c *AnthropicClient) ExtractKnowledge(ctx context.Context, interaction *domain.Interaction) (*domain.ExtractionInput, error) {
	prompt := fmt.Sprintf(extractPrompt, interaction.UserMessage, interaction.AgentResponse)
	raw, err := c.complete(ctx, []anthropicMessage{{Role: "user", Content: prompt}}, 2048)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	extraction := domain.ExtractionInput{InteractionID: interaction.ID}
	if err := decodeStrict(raw, &extraction); err != nil {
		return nil, err
	}
	extraction.InteractionID = interaction.ID
	return &extraction, nil
}
