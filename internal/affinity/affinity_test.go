package affinity_test

import (
	"context"
	"math"
	"testing"
	"time"

	"warroom/internal/affinity"
	"warroom/internal/db"
	"warroom/internal/domain"
	"warroom/internal/migrate"
	"warroom/internal/repo"
)

func newStore(t *testing.T) (affinity.Store, repo.Repo) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	store := affinity.Store{
		Repo: r,
		Now:  func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	return store, r
}

func seedRelationship(t *testing.T, r repo.Repo, a, b string, score float64) {
	t.Helper()
	err := r.InsertRelationship(context.Background(), domain.Relationship{
		ID:        a + "-" + b,
		AgentA:    a,
		AgentB:    b,
		Affinity:  score,
		UpdatedAt: "2025-06-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed relationship: %v", err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAffinityIdentity(t *testing.T) {
	store, _ := newStore(t)
	if got := store.Affinity(context.Background(), "ed", "ed"); got != 1.0 {
		t.Fatalf("self affinity = %v, want 1.0", got)
	}
}

func TestAffinityDefaultForUnknownPair(t *testing.T) {
	store, _ := newStore(t)
	if got := store.Affinity(context.Background(), "ed", "stranger"); got != 0.5 {
		t.Fatalf("unknown pair affinity = %v, want 0.5", got)
	}
}

func TestAffinityPairOrderIrrelevant(t *testing.T) {
	store, r := newStore(t)
	seedRelationship(t, r, "ed", "light", 0.7)
	ctx := context.Background()
	if got := store.Affinity(ctx, "ed", "light"); got != 0.7 {
		t.Fatalf("affinity(ed,light) = %v, want 0.7", got)
	}
	if got := store.Affinity(ctx, "light", "ed"); got != 0.7 {
		t.Fatalf("affinity(light,ed) = %v, want 0.7", got)
	}
}

func TestApplyDriftSuccessAndFailure(t *testing.T) {
	store, r := newStore(t)
	ctx := context.Background()
	seedRelationship(t, r, "ed", "light", 0.5)

	updated := store.ApplyDrift(ctx, [][2]string{{"ed", "light"}}, true)
	if len(updated) != 1 || !almostEqual(updated[0].Affinity, 0.53) {
		t.Fatalf("after success: %+v", updated)
	}
	updated = store.ApplyDrift(ctx, [][2]string{{"ed", "light"}}, false)
	if len(updated) != 1 || !almostEqual(updated[0].Affinity, 0.51) {
		t.Fatalf("after failure: %+v", updated)
	}

	rel, err := r.GetRelationship(ctx, "light", "ed")
	if err != nil {
		t.Fatalf("get relationship: %v", err)
	}
	if len(rel.DriftHistory) != 2 {
		t.Fatalf("drift history entries = %d, want 2", len(rel.DriftHistory))
	}
	first := rel.DriftHistory[0]
	if first.Reason != "mission_success" || !almostEqual(first.Delta, 0.03) {
		t.Fatalf("first drift entry: %+v", first)
	}
	if !almostEqual(first.Old, 0.5) || !almostEqual(first.New, 0.53) {
		t.Fatalf("first drift transition: %+v", first)
	}
	if rel.DriftHistory[1].Reason != "mission_failure" {
		t.Fatalf("second drift entry: %+v", rel.DriftHistory[1])
	}
}

func TestApplyDriftClampsAtBounds(t *testing.T) {
	store, r := newStore(t)
	ctx := context.Background()
	seedRelationship(t, r, "a", "b", 0.94)
	seedRelationship(t, r, "c", "d", 0.11)

	updated := store.ApplyDrift(ctx, [][2]string{{"a", "b"}}, true)
	if len(updated) != 1 || updated[0].Affinity != 0.95 {
		t.Fatalf("upper clamp: %+v", updated)
	}
	// already at ceiling, stays there
	updated = store.ApplyDrift(ctx, [][2]string{{"a", "b"}}, true)
	if len(updated) != 1 || updated[0].Affinity != 0.95 {
		t.Fatalf("upper clamp repeat: %+v", updated)
	}

	updated = store.ApplyDrift(ctx, [][2]string{{"c", "d"}}, false)
	if len(updated) != 1 || updated[0].Affinity != 0.10 {
		t.Fatalf("lower clamp: %+v", updated)
	}
}

func TestApplyDriftSkipsSelfAndUnknownPairs(t *testing.T) {
	store, r := newStore(t)
	ctx := context.Background()
	seedRelationship(t, r, "ed", "light", 0.5)

	updated := store.ApplyDrift(ctx, [][2]string{
		{"ed", "ed"},
		{"ed", "stranger"},
		{"ed", "light"},
	}, true)
	if len(updated) != 1 {
		t.Fatalf("updated %d relationships, want 1", len(updated))
	}
	if updated[0].AgentA != "ed" || updated[0].AgentB != "light" {
		t.Fatalf("unexpected pair: %+v", updated[0])
	}
}

func TestBestCollaborator(t *testing.T) {
	store, r := newStore(t)
	ctx := context.Background()
	seedRelationship(t, r, "ed", "light", 0.6)
	seedRelationship(t, r, "ed", "toji", 0.8)

	if got := store.BestCollaborator(ctx, "ed", nil); got != "ed" {
		t.Fatalf("empty candidates = %q, want primary", got)
	}
	got := store.BestCollaborator(ctx, "ed", []string{"light", "toji", "power"})
	if got != "toji" {
		t.Fatalf("best collaborator = %q, want toji", got)
	}
	// all unknown pairs score 0.5; first candidate wins the tie
	got = store.BestCollaborator(ctx, "major", []string{"power", "light"})
	if got != "power" {
		t.Fatalf("tie break = %q, want power", got)
	}
}

func TestPairsOf(t *testing.T) {
	pairs := affinity.PairsOf([]string{"a", "b", "c"})
	want := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}}
	if len(pairs) != len(want) {
		t.Fatalf("pairs = %v", pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pairs[%d] = %v, want %v", i, pairs[i], want[i])
		}
	}
	if got := affinity.PairsOf([]string{"solo"}); got != nil {
		t.Fatalf("single agent pairs = %v, want none", got)
	}
}
