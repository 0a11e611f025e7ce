package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

const (
	// MistakeCollection is the vector collection holding mistake
	// texts for warning lookups.
	MistakeCollection = "mistakes"

	mistakeTopK          = 3
	mistakeMinSimilarity = 0.55
)

// MistakeService records past corrections and surfaces them as
// warnings when a query comes near one.
type MistakeService struct {
	store   *graph.Store
	vectors domain.VectorIndex
	logger  *zap.Logger
}

func NewMistakeService(store *graph.Store, vectors domain.VectorIndex, logger *zap.Logger) *MistakeService {
	return &MistakeService{
		store:   store,
		vectors: vectors,
		logger:  logger,
	}
}

// Record creates a mistake node from a correction and indexes its
// text for similarity lookup. The node's label is the wrong claim so
// repeat corrections of the same claim reinforce one record.
// penalizedID links the record back to the graph node that took the
// correction penalty; sessionID marks which session surfaced the
// mistake. Either may be empty.
func (s *MistakeService) Record(ctx context.Context, c *domain.Correction, penalizedID, sessionID string) (*domain.Node, error) {
	now := time.Now().UTC()
	node, created := s.store.UpsertNode(domain.NodeMistake, c.WrongClaim, graph.DefaultConfidence, now)
	_, err := s.store.Update(node.ID, func(n *domain.Node) {
		n.SetAttr(domain.AttrWrongClaim, c.WrongClaim)
		n.SetAttr(domain.AttrCorrectClaim, c.CorrectClaim)
		if c.Question != "" {
			n.SetAttr(domain.AttrQuestion, c.Question)
		}
		if sessionID != "" {
			n.SetAttr(domain.AttrSessionID, sessionID)
		}
	})
	if err != nil {
		return nil, err
	}

	if penalizedID != "" && penalizedID != node.ID {
		if _, err := s.store.AddEdge(node.ID, penalizedID, domain.RelCorrects, 1, now); err != nil {
			s.logger.Warn("mistake not linked to penalized node",
				zap.String("node_id", node.ID), zap.String("penalized", penalizedID), zap.Error(err))
		}
	}

	if created && s.vectors != nil {
		// Index question and wrong claim together so either phrasing
		// of the query lands near the record.
		text := c.WrongClaim
		if c.Question != "" {
			text = c.Question + " " + c.WrongClaim
		}
		if err := s.vectors.Index(ctx, MistakeCollection, node.ID, text, nil); err != nil {
			s.logger.Warn("mistake recorded but not indexed",
				zap.String("node_id", node.ID), zap.Error(err))
		}
	}
	return s.store.Get(node.ID)
}

// Check returns up to three warnings for mistakes similar to the
// query. Collaborator failures degrade to no warnings; a retrieval
// must never fail because the warning lookup did.
func (s *MistakeService) Check(ctx context.Context, query string) []domain.MistakeWarning {
	if s.vectors == nil {
		return nil
	}
	matches, err := s.vectors.Similar(ctx, MistakeCollection, query, mistakeTopK, mistakeMinSimilarity)
	if err != nil {
		s.logger.Warn("mistake lookup degraded", zap.String("query", query), zap.Error(err))
		return nil
	}

	var warnings []domain.MistakeWarning
	for _, m := range matches {
		node, err := s.store.Get(m.ItemID)
		if err != nil {
			continue
		}
		w := domain.MistakeWarning{
			Question:      node.Attributes[domain.AttrQuestion],
			WrongAnswer:   node.Attributes[domain.AttrWrongClaim],
			CorrectAnswer: node.Attributes[domain.AttrCorrectClaim],
			Similarity:    m.Similarity,
		}
		if w.WrongAnswer == "" {
			w.WrongAnswer = node.DisplayLabel()
		}
		warnings = append(warnings, w)
	}
	return warnings
}

// List returns every recorded mistake, newest first, optionally
// filtered by query similarity.
func (s *MistakeService) List(ctx context.Context, query string) ([]*domain.Node, error) {
	if query != "" {
		if s.vectors == nil {
			return nil, fmt.Errorf("no vector index configured")
		}
		matches, err := s.vectors.Similar(ctx, MistakeCollection, query, 20, 0)
		if err != nil {
			return nil, err
		}
		var out []*domain.Node
		for _, m := range matches {
			if node, err := s.store.Get(m.ItemID); err == nil {
				out = append(out, node)
			}
		}
		return out, nil
	}

	var out []*domain.Node
	for _, n := range s.store.Nodes() {
		if n.Type == domain.NodeMistake {
			out = append(out, n)
		}
	}
	return out, nil
}
