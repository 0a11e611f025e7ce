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
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// chat types for OpenAI API
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) complete(ctx context.Context, messages []chatMessage, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("chat request: %w", domain.ErrCollaboratorTimeout)
		}
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) SynthesizeSession(ctx context.Context, interactions []*domain.Interaction) (*domain.SessionSynthesis, error) {
	prompt := fmt.Sprintf(synthesizePrompt, formatInteractions(interactions))
	raw, err := c.complete(ctx, []chatMessage{{Role: "user", Content: prompt}}, 0.3)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var synthesis domain.SessionSynthesis
	if err := decodeStrict(raw, &synthesis); err != nil {
		return nil, err
	}
	return &synthesis, nil
}

func (c *OpenAIClient) ExtractKnowledge(ctx context.Context, interaction *domain.Interaction) (*domain.ExtractionInput, error) {
	prompt := fmt.Sprintf(extractPrompt, interaction.UserMessage, interaction.AgentResponse)
	raw, err := c.complete(ctx, []chatMessage{{Role: "user", Content: prompt}}, 0.2)
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
