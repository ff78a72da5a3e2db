// Package affinity scores how well pairs of agents collaborate and drifts
// those scores after each mission outcome.
package affinity

import (
	"context"
	"log/slog"
	"time"

	"warroom/internal/domain"
	"warroom/internal/repo"
)

const (
	// DefaultScore is assumed for pairs with no stored relationship.
	DefaultScore = 0.5
	// SelfScore is an agent's affinity with itself.
	SelfScore = 1.0

	minScore = 0.10
	maxScore = 0.95

	successDelta = 0.03
	failureDelta = -0.02
)

// Store reads and mutates pairwise collaboration scores.
type Store struct {
	Repo repo.Repo
	Log  *slog.Logger
	Now  func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Affinity returns the collaboration score between two agents. Lookup
// failures count as "no relationship found" and yield the default score;
// they never propagate.
func (s Store) Affinity(ctx context.Context, a, b string) float64 {
	if a == b {
		return SelfScore
	}
	rel, err := s.Repo.GetRelationship(ctx, a, b)
	if err != nil {
		return DefaultScore
	}
	return rel.Affinity
}

// BestCollaborator picks the candidate with the highest affinity to the
// primary agent. Ties go to the earliest candidate in input order; an empty
// candidate list returns the primary itself.
func (s Store) BestCollaborator(ctx context.Context, primary string, candidates []string) string {
	if len(candidates) == 0 {
		return primary
	}
	best := candidates[0]
	bestScore := -1.0
	for _, c := range candidates {
		if score := s.Affinity(ctx, primary, c); score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// ApplyDrift adjusts affinity for every unordered pair after a mission
// reaches a terminal state: +0.03 on success, -0.02 on failure, clamped to
// [0.10, 0.95], with one drift-history entry appended per update. Pairs
// without a stored relationship are skipped and per-pair failures are
// swallowed; the call never fails as a whole. Returns the relationships that
// were actually updated.
func (s Store) ApplyDrift(ctx context.Context, pairs [][2]string, success bool) []domain.Relationship {
	delta := successDelta
	reason := "mission_success"
	if !success {
		delta = failureDelta
		reason = "mission_failure"
	}
	now := s.now().UTC().Format(time.RFC3339)

	var updated []domain.Relationship
	for _, pair := range pairs {
		if pair[0] == pair[1] {
			continue
		}
		rel, err := s.Repo.GetRelationship(ctx, pair[0], pair[1])
		if err != nil {
			continue
		}
		newScore := clamp(rel.Affinity + delta)
		entry := domain.DriftEntry{
			Timestamp: now,
			Delta:     delta,
			Old:       rel.Affinity,
			New:       newScore,
			Reason:    reason,
		}
		history := append(rel.DriftHistory, entry)
		if err := s.Repo.UpdateRelationship(ctx, rel.ID, newScore, history, now); err != nil {
			s.log().Warn("affinity drift skipped", "agent_a", rel.AgentA, "agent_b", rel.AgentB, "err", err)
			continue
		}
		rel.Affinity = newScore
		rel.DriftHistory = history
		rel.UpdatedAt = now
		updated = append(updated, rel)
	}
	return updated
}

// PairsOf expands a set of agent ids into all unordered pairs of distinct
// agents.
func PairsOf(agents []string) [][2]string {
	var pairs [][2]string
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			pairs = append(pairs, [2]string{agents[i], agents[j]})
		}
	}
	return pairs
}

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
