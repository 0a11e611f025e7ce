package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Maintenance stage names, in run order. The stage recorded in the
// snapshot is the NEXT stage to run, so an interrupted pass resumes
// where it stopped instead of repeating completed stages.
const (
	StageDecay  = "decay"
	StageDedup  = "dedup"
	StagePrune  = "prune"
	StageRerank = "rerank"
)

var stageOrder = []string{StageDecay, StageDedup, StagePrune, StageRerank}

// DedupSimilarity is the label-similarity threshold above which two
// same-type nodes are treated as duplicates.
const DedupSimilarity = 0.92

// NodeCollection is the vector collection holding node labels for
// dedup lookups.
const NodeCollection = "nodes"

// PassResult summarizes one maintenance pass.
type PassResult struct {
	PassID          string        `json:"pass_id"`
	Resumed         bool          `json:"resumed"`
	NodesDecayed    int           `json:"nodes_decayed"`
	NodesMerged     int           `json:"nodes_merged"`
	NodesDeprecated int           `json:"nodes_deprecated"`
	RankIterations  int           `json:"rank_iterations"`
	Duration        time.Duration `json:"-"`
}

// Checkpointer persists graph state between maintenance stages so a
// crash mid-pass loses at most one stage of work.
type Checkpointer func(snap *domain.Snapshot) error

// Maintainer runs the decay, dedup, prune, rerank cycle over the
// graph. The vector index is optional; without one the dedup stage is
// skipped. Passes are serialized: a scheduled pass and a reflection
// pass landing together run one after the other, never interleaved.
type Maintainer struct {
	store      *Store
	ranker     *Ranker
	vectors    domain.VectorIndex
	checkpoint Checkpointer
	logger     *zap.Logger

	runMu sync.Mutex
}

func NewMaintainer(store *Store, ranker *Ranker, vectors domain.VectorIndex, checkpoint Checkpointer, logger *zap.Logger) *Maintainer {
	return &Maintainer{
		store:      store,
		ranker:     ranker,
		vectors:    vectors,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// Run executes a full maintenance pass, or resumes an interrupted one
// from its recorded stage.
func (m *Maintainer) Run(ctx context.Context, now time.Time) (*PassResult, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	started := time.Now()

	passID, stage := m.store.MaintenanceState()
	res := &PassResult{}
	startIdx := 0
	if stage != "" && passID != "" {
		for i, s := range stageOrder {
			if s == stage {
				startIdx = i
				res.Resumed = true
				break
			}
		}
	}
	if !res.Resumed {
		passID = uuid.NewString()
	}
	res.PassID = passID

	m.logger.Info("maintenance pass starting",
		zap.String("pass_id", passID),
		zap.Bool("resumed", res.Resumed),
		zap.String("stage", stageOrder[startIdx]))

	for i := startIdx; i < len(stageOrder); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.store.SetMaintenanceState(passID, stageOrder[i])
		if err := m.save(now); err != nil {
			return res, err
		}

		var err error
		switch stageOrder[i] {
		case StageDecay:
			res.NodesDecayed = m.runDecay(passID, now)
		case StageDedup:
			res.NodesMerged, err = m.runDedup(ctx, passID, now)
		case StagePrune:
			res.NodesDeprecated = m.runPrune(passID, now)
		case StageRerank:
			res.RankIterations = m.ranker.Recompute(m.store)
		}
		if err != nil {
			return res, fmt.Errorf("maintenance stage %s: %w", stageOrder[i], err)
		}
	}

	m.store.SetMaintenanceState(passID, "")
	if err := m.save(now); err != nil {
		return res, err
	}

	res.Duration = time.Since(started)
	m.logger.Info("maintenance pass complete",
		zap.String("pass_id", passID),
		zap.Int("decayed", res.NodesDecayed),
		zap.Int("merged", res.NodesMerged),
		zap.Int("deprecated", res.NodesDeprecated),
		zap.Int("rank_iterations", res.RankIterations),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (m *Maintainer) save(now time.Time) error {
	if m.checkpoint == nil {
		return nil
	}
	return m.checkpoint(m.store.Snapshot(now))
}

// runDecay applies lazy time decay to every active node. The decay
// watermark advances by whole days only, so running twice in the same
// day changes nothing the second time.
func (m *Maintainer) runDecay(passID string, now time.Time) int {
	decayed := 0
	for _, n := range m.store.ActiveNodes() {
		c, days := DecayedConfidence(n.Confidence, n.LastDecayAt, now)
		if days == 0 {
			continue
		}
		id := n.ID
		_, _ = m.store.Update(id, func(node *domain.Node) {
			node.Confidence = c
			node.LastDecayAt = node.LastDecayAt.Add(time.Duration(days) * 24 * time.Hour)
			node.MaintenancePass = passID
		})
		decayed++
	}
	return decayed
}

// runDedup merges semantic near-duplicates of the same type. The
// survivor is the higher-confidence node; on a tie the older node
// wins, then the smaller id. Candidate pairs are processed in a
// deterministic order so the outcome does not depend on map
// iteration.
func (m *Maintainer) runDedup(ctx context.Context, passID string, now time.Time) (int, error) {
	if m.vectors == nil {
		return 0, nil
	}

	type pair struct {
		a, b *domain.Node
	}
	var pairs []pair
	seen := make(map[[2]string]struct{})
	for _, n := range m.store.ActiveNodes() {
		matches, err := m.vectors.Similar(ctx, NodeCollection, n.Label, 5, DedupSimilarity)
		if err != nil {
			m.logger.Warn("dedup similarity lookup failed, skipping node",
				zap.String("node_id", n.ID), zap.Error(err))
			continue
		}
		for _, match := range matches {
			if match.ItemID == n.ID {
				continue
			}
			other, err := m.store.Get(match.ItemID)
			if err != nil || !other.Active() || other.Type != n.Type {
				continue
			}
			key := [2]string{n.ID, other.ID}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, pair{a: n, b: other})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		ki := pairKey(pairs[i].a, pairs[i].b)
		kj := pairKey(pairs[j].a, pairs[j].b)
		if ki.typ != kj.typ {
			return ki.typ < kj.typ
		}
		if ki.lo != kj.lo {
			return ki.lo < kj.lo
		}
		return ki.hi < kj.hi
	})

	merged := 0
	for _, p := range pairs {
		// Re-read both sides, an earlier merge may have deprecated one.
		a, errA := m.store.Get(p.a.ID)
		b, errB := m.store.Get(p.b.ID)
		if errA != nil || errB != nil || !a.Active() || !b.Active() {
			continue
		}
		surv, dup := pickSurvivor(a, b)
		if err := m.store.Merge(surv.ID, dup.ID, now); err != nil {
			return merged, err
		}
		_, _ = m.store.Update(surv.ID, func(node *domain.Node) {
			node.MaintenancePass = passID
		})
		if err := m.vectors.Remove(ctx, NodeCollection, dup.ID); err != nil {
			m.logger.Warn("failed to remove merged node from vector index",
				zap.String("node_id", dup.ID), zap.Error(err))
		}
		merged++
	}
	return merged, nil
}

type orderedPair struct {
	typ    domain.NodeType
	lo, hi string
}

func pairKey(a, b *domain.Node) orderedPair {
	lo, hi := a.ID, b.ID
	if lo > hi {
		lo, hi = hi, lo
	}
	return orderedPair{typ: a.Type, lo: lo, hi: hi}
}

// pickSurvivor chooses which of two duplicates lives on: higher
// confidence, then older creation, then smaller id.
func pickSurvivor(a, b *domain.Node) (survivor, duplicate *domain.Node) {
	if a.Confidence != b.Confidence {
		if a.Confidence > b.Confidence {
			return a, b
		}
		return b, a
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return a, b
		}
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// runPrune deprecates active nodes whose confidence has fallen below
// the threshold. Their edges are left in place for audit history.
func (m *Maintainer) runPrune(passID string, now time.Time) int {
	deprecated := 0
	for _, n := range m.store.ActiveNodes() {
		if !ShouldDeprecate(n) {
			continue
		}
		id := n.ID
		_, _ = m.store.Update(id, func(node *domain.Node) {
			node.Status = domain.StatusDeprecated
			node.UpdatedAt = now
			node.MaintenancePass = passID
		})
		m.ranker.Drop(id)
		deprecated++
	}
	return deprecated
}
