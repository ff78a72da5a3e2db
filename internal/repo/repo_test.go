package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"warroom/internal/db"
	"warroom/internal/domain"
	"warroom/internal/migrate"
	"warroom/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, *sql.DB) {
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
	return repo.Repo{DB: conn}, conn
}

func seedMissionWithSteps(t *testing.T, r repo.Repo, conn *sql.DB, missionID string, stepCount int) []string {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	m := domain.Mission{
		ID:         missionID,
		Title:      "m",
		AssignedTo: "ed",
		Status:     "queued",
		CreatedAt:  "2025-06-01T12:00:00Z",
	}
	if err := r.InsertMissionTx(ctx, tx, m); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, stepCount)
	for i := 0; i < stepCount; i++ {
		ids[i] = missionID + "-s" + string(rune('a'+i))
		s := domain.Step{
			ID:             ids[i],
			MissionID:      missionID,
			Title:          "step",
			Kind:           "code",
			Position:       i,
			AssignedTo:     "ed",
			Status:         "queued",
			TimeoutMinutes: 30,
			CreatedAt:      "2025-06-01T12:00:00Z",
		}
		if err := r.InsertStepTx(ctx, tx, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestGetProposalNotFound(t *testing.T) {
	r, _ := newRepo(t)
	_, err := r.GetProposal(context.Background(), "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimStepIsExclusive(t *testing.T) {
	r, conn := newRepo(t)
	ctx := context.Background()
	ids := seedMissionWithSteps(t, r, conn, "m1", 1)

	won, err := r.ClaimStep(ctx, ids[0], "2025-06-01T12:01:00Z")
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = r.ClaimStep(ctx, ids[0], "2025-06-01T12:02:00Z")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("second claim must lose")
	}
	steps, _ := r.ListStepsByMission(ctx, "m1")
	if steps[0].Status != "running" || steps[0].StartedAt == nil || *steps[0].StartedAt != "2025-06-01T12:01:00Z" {
		t.Fatalf("step after claims: %+v", steps[0])
	}
}

func TestNextQueuedStepOrdering(t *testing.T) {
	r, conn := newRepo(t)
	ctx := context.Background()
	// same created_at for every step; position breaks the tie
	ids := seedMissionWithSteps(t, r, conn, "m1", 3)

	next, err := r.NextQueuedStep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != ids[0] {
		t.Fatalf("next = %s, want %s", next.ID, ids[0])
	}
	if _, err := r.ClaimStep(ctx, next.ID, "2025-06-01T12:01:00Z"); err != nil {
		t.Fatal(err)
	}
	next, err = r.NextQueuedStep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != ids[1] {
		t.Fatalf("next = %s, want %s", next.ID, ids[1])
	}
}

func TestNextQueuedStepEmpty(t *testing.T) {
	r, _ := newRepo(t)
	_, err := r.NextQueuedStep(context.Background())
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteMissionOnce(t *testing.T) {
	r, conn := newRepo(t)
	ctx := context.Background()
	seedMissionWithSteps(t, r, conn, "m1", 1)

	done, err := r.CompleteMissionOnce(ctx, "m1", "2025-06-01T13:00:00Z")
	if err != nil || !done {
		t.Fatalf("first completion: done=%v err=%v", done, err)
	}
	done, err = r.CompleteMissionOnce(ctx, "m1", "2025-06-01T13:05:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatalf("second completion must be a no-op")
	}
	m, _ := r.GetMission(ctx, "m1")
	if m.Status != "completed" || m.CompletedAt == nil || *m.CompletedAt != "2025-06-01T13:00:00Z" {
		t.Fatalf("mission after completion: %+v", m)
	}
}

func TestCountOpenAndFailedSteps(t *testing.T) {
	r, conn := newRepo(t)
	ctx := context.Background()
	ids := seedMissionWithSteps(t, r, conn, "m1", 3)

	open, _ := r.CountOpenSteps(ctx, "m1")
	if open != 3 {
		t.Fatalf("open = %d, want 3", open)
	}
	out := "ok"
	if err := r.FinishStep(ctx, ids[0], "completed", &out, nil, "2025-06-01T13:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := r.FailStep(ctx, ids[1], "boom", "2025-06-01T13:00:00Z"); err != nil {
		t.Fatal(err)
	}
	open, _ = r.CountOpenSteps(ctx, "m1")
	if open != 1 {
		t.Fatalf("open = %d, want 1", open)
	}
	failed, _ := r.CountFailedSteps(ctx, "m1")
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
}

func TestNormalizePair(t *testing.T) {
	a, b := repo.NormalizePair("light", "ed")
	if a != "ed" || b != "light" {
		t.Fatalf("normalized = (%s, %s)", a, b)
	}
	a, b = repo.NormalizePair("ed", "light")
	if a != "ed" || b != "light" {
		t.Fatalf("already ordered = (%s, %s)", a, b)
	}
}

func TestRunStateRoundTrip(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	state, err := r.LoadRunState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.StepsProcessed != 0 || state.ConsecutiveErrors != 0 || state.LastRun != "" {
		t.Fatalf("fresh state: %+v", state)
	}

	state.LastRun = "2025-06-01T12:00:00Z"
	state.StepsProcessed = 7
	state.ConsecutiveErrors = 2
	if err := r.SaveRunState(ctx, state, "2025-06-01T12:00:00Z"); err != nil {
		t.Fatal(err)
	}
	got, err := r.LoadRunState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != state {
		t.Fatalf("round trip: %+v != %+v", got, state)
	}
}

func TestAgentStateUpserts(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	if err := r.MarkAgentBusy(ctx, "ed", "m1", "2025-06-01T12:00:00Z"); err != nil {
		t.Fatal(err)
	}
	s, err := r.GetAgentState(ctx, "ed")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "busy" || s.CurrentMissionID == nil || *s.CurrentMissionID != "m1" {
		t.Fatalf("busy state: %+v", s)
	}
	if err := r.MarkAgentIdle(ctx, "ed", "2025-06-01T12:30:00Z"); err != nil {
		t.Fatal(err)
	}
	s, _ = r.GetAgentState(ctx, "ed")
	if s.Status != "idle" || s.CurrentMissionID != nil {
		t.Fatalf("idle state: %+v", s)
	}
}

func TestAPIKeyLookup(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey("secret-value")
	key := domain.APIKey{ID: "k1", Subject: "ci-bot", KeyHash: hash, CreatedAt: "2025-06-01T12:00:00Z"}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if got.Subject != "ci-bot" {
		t.Fatalf("subject = %q", got.Subject)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, hash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted key still resolves: %v", err)
	}
}
