package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

// Reflection states. Transitions run strictly forward through one
// cycle and return to Idle; a failed cycle rolls the graph back to
// its pre-apply baseline and returns to Collecting.
const (
	StateIdle         = "idle"
	StateCollecting   = "collecting"
	StateSynthesizing = "synthesizing"
	StateApplying     = "applying"
	StateMaintaining  = "maintaining"
	StateJournaling   = "journaling"
)

const (
	// ReflectionThreshold is the unprocessed interaction count that
	// arms an automatic reflection run.
	ReflectionThreshold = 25

	// reflectionBatchLimit caps how many interactions one synthesis
	// call sees.
	reflectionBatchLimit = 50

	// insightMinSupports and insightMinConfidence gate synthesized
	// insights: an insight needs at least two active supporting nodes
	// above the confidence floor.
	insightMinSupports   = 2
	insightMinConfidence = 0.3

	// inferredEdgeWeight is the weight of relates_to edges added
	// between supports of an accepted insight.
	inferredEdgeWeight = 0.3
)

// ReflectionResult summarizes one completed reflection run.
type ReflectionResult struct {
	RunID            string             `json:"run_id"`
	InteractionCount int                `json:"interaction_count"`
	QualityScore     float64            `json:"quality_score"`
	Summary          string             `json:"summary"`
	LearningsApplied int                `json:"learnings_applied"`
	CorrectionsMade  int                `json:"corrections_made"`
	InsightsAdded    int                `json:"insights_added"`
	InsightsRejected int                `json:"insights_rejected"`
	Maintenance      *graph.PassResult  `json:"maintenance,omitempty"`
	Skipped          bool               `json:"skipped,omitempty"`
}

// ReflectionService drives the reflect cycle: collect interactions,
// synthesize them, apply the synthesis to the graph, run maintenance,
// journal the outcome.
type ReflectionService struct {
	store        *graph.Store
	interactions domain.InteractionStore
	llm          domain.LLMClient
	extraction   *ExtractionService
	mistakes     *MistakeService
	maintainer   *graph.Maintainer
	snapshots    domain.SnapshotStore
	journal      domain.Journal
	logger       *zap.Logger

	mu    sync.Mutex
	state string
}

func NewReflectionService(
	store *graph.Store,
	interactions domain.InteractionStore,
	llm domain.LLMClient,
	extraction *ExtractionService,
	mistakes *MistakeService,
	maintainer *graph.Maintainer,
	snapshots domain.SnapshotStore,
	journal domain.Journal,
	logger *zap.Logger,
) *ReflectionService {
	return &ReflectionService{
		store:        store,
		interactions: interactions,
		llm:          llm,
		extraction:   extraction,
		mistakes:     mistakes,
		maintainer:   maintainer,
		snapshots:    snapshots,
		journal:      journal,
		logger:       logger,
		state:        StateIdle,
	}
}

func (s *ReflectionService) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ReflectionService) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("reflection state", zap.String("state", state))
}

// RecordInteraction appends to the log and moves an idle pipeline to
// collecting. It reports whether the reflection threshold is reached.
func (s *ReflectionService) RecordInteraction(ctx context.Context, in *domain.Interaction) (pending int, armed bool, err error) {
	if err := s.interactions.Append(ctx, in); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateCollecting
	}
	s.mu.Unlock()

	pending, err = s.interactions.UnprocessedCount(ctx)
	if err != nil {
		return 0, false, err
	}
	return pending, pending >= ReflectionThreshold, nil
}

// Run executes one reflection cycle. Without force it is a no-op
// below the interaction threshold. A run already past collecting
// rejects concurrent starts with ErrInvalidTransition.
func (s *ReflectionService) Run(ctx context.Context, force bool) (*ReflectionResult, error) {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateCollecting {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("reflection busy in state %s: %w", state, domain.ErrInvalidTransition)
	}
	s.state = StateSynthesizing
	s.mu.Unlock()

	res := &ReflectionResult{RunID: uuid.NewString()}
	now := time.Now().UTC()

	batch, err := s.interactions.Unprocessed(ctx, reflectionBatchLimit)
	if err != nil {
		s.setState(StateCollecting)
		return nil, err
	}
	if len(batch) == 0 || (!force && len(batch) < ReflectionThreshold) {
		s.setState(s.stateAfterSkip(len(batch)))
		res.Skipped = true
		res.InteractionCount = len(batch)
		return res, nil
	}
	res.InteractionCount = len(batch)

	synthesis, err := s.llm.SynthesizeSession(ctx, batch)
	if err != nil {
		s.setState(StateCollecting)
		return nil, fmt.Errorf("synthesize session: %w", err)
	}
	res.QualityScore = synthesis.QualityScore
	res.Summary = synthesis.Summary

	// Baseline for rollback: the graph as it stands before any of
	// the synthesis is applied.
	baseline := s.store.Snapshot(now)

	s.setState(StateApplying)
	if err := s.apply(ctx, synthesis, res, batch[0].SessionID, now); err != nil {
		s.rollback(baseline, res.RunID, err)
		return nil, fmt.Errorf("apply synthesis: %w", err)
	}

	s.setState(StateMaintaining)
	if s.maintainer != nil {
		pass, err := s.maintainer.Run(ctx, now)
		if err != nil {
			s.rollback(baseline, res.RunID, err)
			return nil, fmt.Errorf("maintenance: %w", err)
		}
		res.Maintenance = pass
	}

	s.setState(StateJournaling)
	if s.snapshots != nil {
		if err := s.snapshots.Save(s.store.Snapshot(time.Now().UTC())); err != nil {
			s.rollback(baseline, res.RunID, err)
			return nil, fmt.Errorf("snapshot save: %v: %w", err, domain.ErrPersistenceFailure)
		}
	}
	ids := make([]string, len(batch))
	for i, in := range batch {
		ids[i] = in.ID
	}
	if err := s.interactions.MarkProcessed(ctx, ids); err != nil {
		s.rollback(baseline, res.RunID, err)
		if s.snapshots != nil {
			if serr := s.snapshots.Save(baseline); serr != nil {
				s.logger.Error("baseline re-save failed",
					zap.String("run_id", res.RunID), zap.Error(serr))
			}
		}
		return nil, fmt.Errorf("mark processed: %w", err)
	}
	if s.journal != nil {
		entry := &domain.JournalEntry{
			RunID:            res.RunID,
			CompletedAt:      time.Now().UTC(),
			InteractionCount: res.InteractionCount,
			QualityScore:     res.QualityScore,
			Summary:          res.Summary,
			LearningsApplied: res.LearningsApplied,
			CorrectionsMade:  res.CorrectionsMade,
			InsightsAdded:    res.InsightsAdded,
		}
		if res.Maintenance != nil {
			entry.NodesDeprecated = res.Maintenance.NodesDeprecated
			entry.NodesMerged = res.Maintenance.NodesMerged
		}
		if err := s.journal.Record(entry); err != nil {
			s.logger.Warn("journal write failed", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}

	s.setState(StateIdle)
	s.logger.Info("reflection complete",
		zap.String("run_id", res.RunID),
		zap.Int("interactions", res.InteractionCount),
		zap.Int("learnings", res.LearningsApplied),
		zap.Int("corrections", res.CorrectionsMade),
		zap.Int("insights", res.InsightsAdded))
	return res, nil
}

func (s *ReflectionService) stateAfterSkip(pending int) string {
	if pending == 0 {
		return StateIdle
	}
	return StateCollecting
}

func (s *ReflectionService) rollback(baseline *domain.Snapshot, runID string, cause error) {
	if err := s.store.Restore(baseline); err != nil {
		s.logger.Error("rollback failed, graph may be inconsistent",
			zap.String("run_id", runID), zap.Error(err))
	} else {
		s.logger.Warn("reflection rolled back",
			zap.String("run_id", runID), zap.Error(cause))
	}
	s.setState(StateCollecting)
}

func (s *ReflectionService) apply(ctx context.Context, syn *domain.SessionSynthesis, res *ReflectionResult, sessionID string, now time.Time) error {
	for _, l := range syn.Learnings {
		node, created := s.store.UpsertNode(domain.NodeFact, l.Claim, graph.DefaultConfidence, now)
		if l.ConfidenceDelta != 0 {
			_, err := s.store.Update(node.ID, func(n *domain.Node) {
				n.Confidence = graph.AdjustConfidence(n.Confidence, l.ConfidenceDelta)
			})
			if err != nil {
				return err
			}
		}
		if created && s.extraction != nil {
			if err := s.extraction.indexNode(ctx, node); err != nil {
				s.logger.Warn("learning not indexed", zap.String("node_id", node.ID), zap.Error(err))
			}
		}
		res.LearningsApplied++
	}

	for i := range syn.Corrections {
		if err := s.applyCorrection(ctx, &syn.Corrections[i], sessionID, now); err != nil {
			return err
		}
		res.CorrectionsMade++
	}

	for _, in := range syn.Insights {
		ok, supports := s.insightSupports(in)
		if !ok {
			res.InsightsRejected++
			continue
		}
		node, created := s.store.UpsertNode(domain.NodeConcept, in.Claim, graph.DefaultConfidence, now)
		_, err := s.store.Update(node.ID, func(n *domain.Node) {
			n.SetAttr(domain.AttrInferred, "true")
		})
		if err != nil {
			return err
		}
		for _, sup := range supports {
			if _, err := s.store.AddEdge(node.ID, sup, domain.RelInferredFrom, 1, now); err != nil {
				s.logger.Warn("insight support edge rejected",
					zap.String("insight", node.ID), zap.String("support", sup), zap.Error(err))
			}
		}
		// Supports that ground the same insight are related to each
		// other too, at a low inferred weight.
		for i := 0; i < len(supports); i++ {
			for j := i + 1; j < len(supports); j++ {
				if _, err := s.store.AddEdge(supports[i], supports[j], domain.RelRelatesTo, inferredEdgeWeight, now); err != nil {
					s.logger.Warn("inferred edge rejected",
						zap.String("source", supports[i]), zap.String("target", supports[j]), zap.Error(err))
				}
			}
		}
		if created && s.extraction != nil {
			if err := s.extraction.indexNode(ctx, node); err != nil {
				s.logger.Warn("insight not indexed", zap.String("node_id", node.ID), zap.Error(err))
			}
		}
		res.InsightsAdded++
	}
	return nil
}

// applyCorrection penalizes the wrong claim, records the mistake, and
// installs the corrected claim with a corrects edge back to the wrong
// one.
func (s *ReflectionService) applyCorrection(ctx context.Context, c *domain.Correction, sessionID string, now time.Time) error {
	wrong := s.resolveClaim(c.RelatedNodeID, c.WrongClaim)
	if wrong == nil {
		n, _ := s.store.UpsertNode(domain.NodeFact, c.WrongClaim, graph.DefaultConfidence, now)
		wrong = n
	}
	// An already-deprecated wrong claim takes no further penalty; the
	// correction note is still worth attaching.
	_, err := s.store.Apply(wrong.ID, func(n *domain.Node) error {
		if n.Active() {
			if err := graph.Correct(n, now); err != nil {
				return err
			}
		}
		n.SetAttr(domain.AttrCorrectionNote, c.CorrectClaim)
		return nil
	})
	if err != nil {
		return err
	}

	if s.mistakes != nil {
		if _, err := s.mistakes.Record(ctx, c, wrong.ID, sessionID); err != nil {
			return err
		}
	}

	corrected, created := s.store.UpsertNode(domain.NodeFact, c.CorrectClaim, graph.DefaultConfidence, now)
	if _, err := s.store.AddEdge(corrected.ID, wrong.ID, domain.RelCorrects, 1, now); err != nil {
		return err
	}
	if created && s.extraction != nil {
		if err := s.extraction.indexNode(ctx, corrected); err != nil {
			s.logger.Warn("correction not indexed", zap.String("node_id", corrected.ID), zap.Error(err))
		}
	}
	return nil
}

// resolveClaim finds a node by id when given, otherwise by label
// across types.
func (s *ReflectionService) resolveClaim(nodeID, claim string) *domain.Node {
	if nodeID != "" {
		if n, err := s.store.Get(nodeID); err == nil {
			return n
		}
	}
	if n, ok := s.store.FindByLabelAnyType(claim); ok {
		return n
	}
	return nil
}

// insightSupports checks the insight's grounding: at least two of its
// supports must resolve to active nodes above the confidence floor.
func (s *ReflectionService) insightSupports(in domain.Insight) (bool, []string) {
	var supports []string
	for _, ref := range in.SupportingNodeIDs {
		node, err := s.store.Get(ref)
		if err != nil {
			if n, ok := s.store.FindByLabelAnyType(ref); ok {
				node = n
			} else {
				continue
			}
		}
		if node.Active() && node.Confidence > insightMinConfidence {
			supports = append(supports, node.ID)
		}
	}
	return len(supports) >= insightMinSupports, supports
}
