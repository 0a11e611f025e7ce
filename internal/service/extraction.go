package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

// ExtractionResult reports what a merged extraction changed.
type ExtractionResult struct {
	NodesCreated    int `json:"nodes_created"`
	NodesReinforced int `json:"nodes_reinforced"`
	EdgesAdded      int `json:"edges_added"`
	EdgesSkipped    int `json:"edges_skipped"`
}

// ExtractionService merges candidate knowledge into the graph and
// keeps the vector index in step with node labels.
type ExtractionService struct {
	store   *graph.Store
	vectors domain.VectorIndex
	llm     domain.LLMClient
	logger  *zap.Logger
}

func NewExtractionService(store *graph.Store, vectors domain.VectorIndex, llm domain.LLMClient, logger *zap.Logger) *ExtractionService {
	return &ExtractionService{
		store:   store,
		vectors: vectors,
		llm:     llm,
		logger:  logger,
	}
}

// Merge applies an extraction batch. Candidate nodes land via upsert,
// so repeats reinforce instead of duplicating. Edges referencing
// labels that resolve to no node are skipped, not failed; one bad
// edge must not sink the batch.
func (s *ExtractionService) Merge(ctx context.Context, input *domain.ExtractionInput) (*ExtractionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res := &ExtractionResult{}

	for _, cand := range input.Nodes {
		conf := cand.Confidence
		if conf == 0 {
			conf = graph.DefaultConfidence
		}
		node, created := s.store.UpsertNode(domain.NodeType(cand.Type), cand.Label, conf, now)
		if created {
			res.NodesCreated++
			if input.InteractionID != "" {
				_, _ = s.store.Update(node.ID, func(n *domain.Node) {
					n.SetAttr(domain.AttrSource, input.InteractionID)
				})
			}
			if err := s.indexNode(ctx, node); err != nil {
				s.logger.Warn("node created but not indexed",
					zap.String("node_id", node.ID), zap.Error(err))
			}
		} else {
			res.NodesReinforced++
		}
	}

	for _, cand := range input.Edges {
		src, okSrc := s.store.FindByLabelAnyType(cand.SourceLabel)
		dst, okDst := s.store.FindByLabelAnyType(cand.TargetLabel)
		if !okSrc || !okDst || src.ID == dst.ID {
			res.EdgesSkipped++
			continue
		}
		if _, err := s.store.AddEdge(src.ID, dst.ID, domain.RelationType(cand.Relation), 1, now); err != nil {
			s.logger.Warn("edge rejected",
				zap.String("source", cand.SourceLabel),
				zap.String("target", cand.TargetLabel),
				zap.Error(err))
			res.EdgesSkipped++
			continue
		}
		res.EdgesAdded++
	}

	s.logger.Info("extraction merged",
		zap.Int("nodes_created", res.NodesCreated),
		zap.Int("nodes_reinforced", res.NodesReinforced),
		zap.Int("edges_added", res.EdgesAdded),
		zap.Int("edges_skipped", res.EdgesSkipped))
	return res, nil
}

// ExtractAndMerge runs LLM knowledge extraction over one interaction
// and merges the result.
func (s *ExtractionService) ExtractAndMerge(ctx context.Context, interaction *domain.Interaction) (*ExtractionResult, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("no llm client configured")
	}
	extraction, err := s.llm.ExtractKnowledge(ctx, interaction)
	if err != nil {
		return nil, fmt.Errorf("extract knowledge: %w", err)
	}
	return s.Merge(ctx, extraction)
}

func (s *ExtractionService) indexNode(ctx context.Context, node *domain.Node) error {
	if s.vectors == nil {
		return nil
	}
	return s.vectors.Index(ctx, graph.NodeCollection, node.ID, node.Label, map[string]string{
		"type": string(node.Type),
	})
}
