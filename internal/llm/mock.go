package llm

import (
	"context"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	SynthesizeResponse *domain.SessionSynthesis
	SynthesizeError    error
	ExtractResponse    *domain.ExtractionInput
	ExtractError       error

	// Call tracking for assertions
	SynthesizeCalls [][]*domain.Interaction
	ExtractCalls    []*domain.Interaction
}

func NewMockClient() *MockClient {
	return &MockClient{
		SynthesizeResponse: &domain.SessionSynthesis{
			QualityScore: 0.5,
			Summary:      "Mock session summary",
			Learnings:    []domain.Learning{},
			Corrections:  []domain.Correction{},
			Insights:     []domain.Insight{},
		},
		ExtractResponse: &domain.ExtractionInput{
			Nodes: []domain.CandidateNode{},
			Edges: []domain.CandidateEdge{},
		},
	}
}

func (c *MockClient) SynthesizeSession(ctx context.Context, interactions []*domain.Interaction) (*domain.SessionSynthesis, error) {
	c.SynthesizeCalls = append(c.SynthesizeCalls, interactions)
	if c.SynthesizeError != nil {
		return nil, c.SynthesizeError
	}
	return c.SynthesizeResponse, nil
}

func (c *MockClient) ExtractKnowledge(ctx context.Context, interaction *domain.Interaction) (*domain.ExtractionInput, error) {
	c.ExtractCalls = append(c.ExtractCalls, interaction)
	if c.ExtractError != nil {
		return nil, c.ExtractError
	}
	out := *c.ExtractResponse
	out.InteractionID = interaction.ID
	return &out, nil
}
