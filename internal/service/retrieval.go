package service

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

const (
	// Scoring weights. Confidence dominates, importance and recency
	// break ties between equally trusted knowledge.
	scoreWeightConfidence = 0.5
	scoreWeightImportance = 0.3
	scoreWeightRecency    = 0.2

	// recencyHalfLifeDays halves the recency component every 30 days
	// since the node was last touched.
	recencyHalfLifeDays = 30

	retrievalMinSimilarity = 0.3
	defaultTopK            = 5

	// neighborDamping discounts the similarity a 1-hop neighbor
	// inherits from the seed hit that reached it.
	neighborDamping = 0.5
)

// RetrievalService answers queries from the graph: vector candidates,
// composite scoring, mistake warnings on the side.
type RetrievalService struct {
	store    *graph.Store
	ranker   *graph.Ranker
	vectors  domain.VectorIndex
	mistakes *MistakeService
	logger   *zap.Logger
}

func NewRetrievalService(store *graph.Store, ranker *graph.Ranker, vectors domain.VectorIndex, mistakes *MistakeService, logger *zap.Logger) *RetrievalService {
	return &RetrievalService{
		store:    store,
		ranker:   ranker,
		vectors:  vectors,
		mistakes: mistakes,
		logger:   logger,
	}
}

// composite blends confidence, importance and recency into one score.
// Raw PageRank mass is tiny on any non-trivial graph, so it is scaled
// by the graph size before capping at 1.
func composite(confidence, importance float64, updatedAt, now time.Time) float64 {
	imp := math.Min(importance*100, 1)
	days := now.Sub(updatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Pow(0.5, days/recencyHalfLifeDays)
	return scoreWeightConfidence*confidence + scoreWeightImportance*imp + scoreWeightRecency*recency
}

// Retrieve answers a query with up to topK scored items. Retrieved
// nodes are reinforced, retrieval is itself a use signal.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, topK int) (*domain.RetrievalResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	now := time.Now().UTC()
	res := &domain.RetrievalResult{Query: query}

	if s.mistakes != nil {
		res.Warnings = s.mistakes.Check(ctx, query)
	}

	if s.vectors == nil {
		return res, nil
	}
	// Over-fetch so deprecated hits do not starve the result.
	matches, err := s.vectors.Similar(ctx, graph.NodeCollection, query, topK*3, retrievalMinSimilarity)
	if err != nil {
		// A broken index degrades the answer, it does not break it.
		// Any mistake warnings already collected still go out.
		s.logger.Warn("vector search unavailable, serving degraded result",
			zap.String("query", query), zap.Error(err))
		return res, nil
	}

	type candidate struct {
		node *domain.Node
		sim  float64
	}
	candidates := make(map[string]candidate, len(matches))
	seeds := make([]candidate, 0, len(matches))
	for _, m := range matches {
		node, err := s.store.Get(m.ItemID)
		if err != nil || !node.Active() {
			continue
		}
		c := candidate{node: node, sim: m.Similarity}
		if prev, ok := candidates[node.ID]; ok && prev.sim >= c.sim {
			continue
		}
		candidates[node.ID] = c
		seeds = append(seeds, c)
	}

	// 1-hop expansion: neighbors of a seed hit enter the pool with a
	// damped similarity, so connected knowledge surfaces even when the
	// query text never mentions it.
	for _, seed := range seeds {
		inherited := seed.sim * neighborDamping
		if inherited < retrievalMinSimilarity {
			continue
		}
		_, neighbors, err := s.store.Neighbors(seed.node.ID)
		if err != nil {
			continue
		}
		for _, nb := range neighbors {
			if !nb.Active() {
				continue
			}
			if prev, ok := candidates[nb.ID]; ok && prev.sim >= inherited {
				continue
			}
			candidates[nb.ID] = candidate{node: nb, sim: inherited}
		}
	}

	for _, c := range candidates {
		importance := s.ranker.Score(c.node.ID)
		res.Items = append(res.Items, domain.RetrievalItem{
			NodeID:     c.node.ID,
			Label:      c.node.DisplayLabel(),
			Type:       c.node.Type,
			Confidence: c.node.Confidence,
			Importance: importance,
			Similarity: c.sim,
			Score:      composite(c.node.Confidence, importance, c.node.UpdatedAt, now),
		})
	}

	sort.Slice(res.Items, func(i, j int) bool {
		if res.Items[i].Score != res.Items[j].Score {
			return res.Items[i].Score > res.Items[j].Score
		}
		return res.Items[i].NodeID < res.Items[j].NodeID
	})
	if len(res.Items) > topK {
		res.Items = res.Items[:topK]
	}

	for _, item := range res.Items {
		_, _ = s.store.Update(item.NodeID, func(n *domain.Node) {
			graph.Reinforce(n, now)
		})
	}

	s.logger.Debug("retrieval served",
		zap.String("query", query),
		zap.Int("items", len(res.Items)),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}
