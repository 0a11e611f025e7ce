package graph

import (
	"math"
	"sort"
	"sync"
)

const (
	rankDamping   = 0.85
	rankTolerance = 1e-6
	rankMaxIters  = 100
)

// RankedNode pairs a node id with its importance score.
type RankedNode struct {
	NodeID string  `json:"node_id"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
}

// Ranker computes importance scores over the active subgraph with
// weighted PageRank. Deprecated nodes and any edge touching one are
// excluded entirely; dangling mass is redistributed uniformly.
// Safe for concurrent use; Recompute builds the new table off to the
// side and swaps it in under the lock.
type Ranker struct {
	mu     sync.RWMutex
	scores map[string]float64
}

func NewRanker() *Ranker {
	return &Ranker{scores: make(map[string]float64)}
}

// Recompute runs PageRank to convergence and replaces the previous
// scores. It returns the number of iterations used.
func (r *Ranker) Recompute(s *Store) int {
	nodes := s.ActiveNodes()
	if len(nodes) == 0 {
		r.mu.Lock()
		r.scores = make(map[string]float64)
		r.mu.Unlock()
		return 0
	}
	active := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		active[n.ID] = struct{}{}
	}

	type link struct {
		target string
		weight float64
	}
	outLinks := make(map[string][]link)
	outWeight := make(map[string]float64)
	for _, e := range s.Edges() {
		if _, ok := active[e.Source]; !ok {
			continue
		}
		if _, ok := active[e.Target]; !ok {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		outLinks[e.Source] = append(outLinks[e.Source], link{target: e.Target, weight: w})
		outWeight[e.Source] += w
	}

	n := float64(len(nodes))
	rank := make(map[string]float64, len(nodes))
	for id := range active {
		rank[id] = 1 / n
	}

	iters := 0
	for ; iters < rankMaxIters; iters++ {
		next := make(map[string]float64, len(nodes))
		var dangling float64
		for id, score := range rank {
			links := outLinks[id]
			if len(links) == 0 {
				dangling += score
				continue
			}
			total := outWeight[id]
			for _, l := range links {
				next[l.target] += score * l.weight / total
			}
		}
		base := (1-rankDamping)/n + rankDamping*dangling/n
		var delta float64
		for id := range active {
			v := base + rankDamping*next[id]
			delta += math.Abs(v - rank[id])
			rank[id] = v
		}
		if delta < rankTolerance {
			iters++
			break
		}
	}

	r.mu.Lock()
	r.scores = rank
	r.mu.Unlock()
	return iters
}

// Score returns the importance of a node, zero when unranked or
// deprecated.
func (r *Ranker) Score(nodeID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scores[nodeID]
}

// Top returns the n highest-importance nodes in descending score
// order, ties broken by id for stable output.
func (r *Ranker) Top(s *Store, n int) []RankedNode {
	r.mu.RLock()
	ranked := make(map[string]float64, len(r.scores))
	for id, score := range r.scores {
		ranked[id] = score
	}
	r.mu.RUnlock()

	out := make([]RankedNode, 0, len(ranked))
	for id, score := range ranked {
		node, err := s.Get(id)
		if err != nil || !node.Active() {
			continue
		}
		out = append(out, RankedNode{NodeID: id, Label: node.DisplayLabel(), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NodeID < out[j].NodeID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Drop removes a node from the score table, used when a node is
// deprecated between recomputes.
func (r *Ranker) Drop(nodeID string) {
	r.mu.Lock()
	delete(r.scores, nodeID)
	r.mu.Unlock()
}
