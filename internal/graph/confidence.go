package graph

import (
	"fmt"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Confidence adjustment deltas. A correction is a strong negative
// signal; confirmation and reinforcement are weaker positives.
const (
	DeltaCorrection    = -0.4
	DeltaConfirmation  = 0.2
	DeltaReinforcement = 0.03

	// DecayPerDay is subtracted per full day elapsed since a node's
	// last decay watermark.
	DecayPerDay = 0.001

	// DeprecationThreshold is the confidence below which an active
	// node is deprecated during maintenance.
	DeprecationThreshold = 0.05

	// DefaultConfidence is assigned to extracted nodes that carry no
	// confidence hint.
	DefaultConfidence = 0.5
)

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// AdjustConfidence applies a delta and returns the clamped result.
func AdjustConfidence(current, delta float64) float64 {
	return ClampConfidence(current + delta)
}

// DecayedConfidence computes confidence after time decay between the
// last decay watermark and now. Partial days do not decay, which
// makes repeated passes within the same day idempotent.
func DecayedConfidence(current float64, lastDecay, now time.Time) (float64, int) {
	if !now.After(lastDecay) {
		return current, 0
	}
	days := int(math.Floor(now.Sub(lastDecay).Hours() / 24))
	if days <= 0 {
		return current, 0
	}
	return ClampConfidence(current - DecayPerDay*float64(days)), days
}

// ShouldDeprecate reports whether an active node's confidence has
// fallen below the deprecation threshold.
func ShouldDeprecate(n *domain.Node) bool {
	return n.Status == domain.StatusActive && n.Confidence < DeprecationThreshold
}

// Reinforce bumps a node's confidence and use count. A deprecated
// node is reactivated only when the reinforced confidence clears the
// deprecation threshold; decay alone never reactivates.
func Reinforce(n *domain.Node, now time.Time) {
	n.Confidence = AdjustConfidence(n.Confidence, DeltaReinforcement)
	n.UseCount++
	n.UpdatedAt = now
	if n.Status == domain.StatusDeprecated && n.Confidence >= DeprecationThreshold {
		n.Status = domain.StatusActive
	}
}

// Confirm applies the confirmation delta. Deprecated nodes reject the
// operation; reinforcement is the only path back to active.
func Confirm(n *domain.Node, now time.Time) error {
	if !n.Active() {
		return fmt.Errorf("confirm %s node %s: %w", n.Status, n.ID, domain.ErrInvalidTransition)
	}
	n.Confidence = AdjustConfidence(n.Confidence, DeltaConfirmation)
	n.UpdatedAt = now
	return nil
}

// Correct applies the correction penalty. Deprecated nodes reject the
// operation. An active node keeps its status until maintenance
// deprecates it, so the penalty and the status change are observable
// separately.
func Correct(n *domain.Node, now time.Time) error {
	if !n.Active() {
		return fmt.Errorf("correct %s node %s: %w", n.Status, n.ID, domain.ErrInvalidTransition)
	}
	n.Confidence = AdjustConfidence(n.Confidence, DeltaCorrection)
	n.UpdatedAt = now
	return nil
}
