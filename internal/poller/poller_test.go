package poller_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"warroom/internal/affinity"
	"warroom/internal/config"
	"warroom/internal/db"
	"warroom/internal/domain"
	"warroom/internal/events"
	"warroom/internal/executor"
	"warroom/internal/migrate"
	"warroom/internal/mission"
	"warroom/internal/poller"
	"warroom/internal/repo"
	"warroom/internal/runner"
)

func newPoller(t *testing.T, run runner.Func) (poller.Poller, repo.Repo) {
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
	cfg := config.Default()
	r := repo.Repo{DB: conn}
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	b := mission.New(conn, cfg)
	b.Now = now
	exec := executor.Executor{
		DB:       conn,
		Repo:     r,
		Events:   events.Writer{DB: conn},
		Config:   cfg,
		Affinity: affinity.Store{Repo: r},
		Run:      run,
		Now:      now,
	}
	p := poller.New(b, exec, cfg)
	p.Now = now
	p.Sleep = func(time.Duration) {}
	return p, r
}

func succeed(ctx context.Context, req runner.Request) (runner.Outcome, error) {
	return runner.Outcome{Kind: runner.Success, Stdout: "ok"}, nil
}

func approveProposal(t *testing.T, b mission.Builder, title string) {
	t.Helper()
	ctx := context.Background()
	p, err := b.CreateProposal(ctx, mission.ProposalOptions{Title: title, RequestedBy: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApproveProposal(ctx, p.ID, "boss"); err != nil {
		t.Fatal(err)
	}
}

func TestCycleRunsAllPhases(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	approveProposal(t, p.Builder, "Ship it")

	state := domain.RunState{ConsecutiveErrors: 3}
	if err := p.Cycle(ctx, &state); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if state.StepsProcessed != 1 {
		t.Fatalf("steps processed = %d, want 1", state.StepsProcessed)
	}
	if state.LastRun != "2025-06-01T12:00:00Z" {
		t.Fatalf("last run = %q", state.LastRun)
	}
	if state.ConsecutiveErrors != 0 {
		t.Fatalf("clean cycle must reset consecutive errors, got %d", state.ConsecutiveErrors)
	}

	missions, err := r.ListMissions(ctx, repo.MissionFilters{})
	if err != nil || len(missions) != 1 {
		t.Fatalf("missions after cycle: %v %v", missions, err)
	}
	counts, _ := r.CountEventsByType(ctx)
	if counts["heartbeat"] != 1 {
		t.Fatalf("heartbeat events = %d, want 1", counts["heartbeat"])
	}
	if counts["step_completed"] != 1 {
		t.Fatalf("step_completed events = %d, want 1", counts["step_completed"])
	}
}

func TestCycleWithNothingToDo(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	state := domain.RunState{}
	if err := p.Cycle(ctx, &state); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if state.StepsProcessed != 0 {
		t.Fatalf("steps processed = %d, want 0", state.StepsProcessed)
	}
	counts, _ := r.CountEventsByType(ctx)
	if counts["heartbeat"] != 1 {
		t.Fatalf("idle cycles still emit a heartbeat")
	}
}

func TestCycleSwallowsPhaseFailures(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	// break proposal intake only
	if _, err := r.DB.Exec(`DROP TABLE proposals`); err != nil {
		t.Fatal(err)
	}

	state := domain.RunState{ConsecutiveErrors: 3}
	if err := p.Cycle(ctx, &state); err != nil {
		t.Fatalf("phase failure must not escape the cycle: %v", err)
	}
	if state.ConsecutiveErrors != 0 {
		t.Fatalf("consecutive errors = %d, want 0 after reaching bookkeeping", state.ConsecutiveErrors)
	}
	if state.LastRun == "" {
		t.Fatalf("last run not recorded")
	}
	counts, _ := r.CountEventsByType(ctx)
	if counts["heartbeat"] != 1 {
		t.Fatalf("heartbeat events = %d, want 1", counts["heartbeat"])
	}
	persisted, err := r.LoadRunState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.LastRun != state.LastRun {
		t.Fatalf("persisted last run = %q, want %q", persisted.LastRun, state.LastRun)
	}
}

func TestCycleCountsStatePersistenceFailure(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	if _, err := r.DB.Exec(`DROP TABLE run_state`); err != nil {
		t.Fatal(err)
	}

	state := domain.RunState{}
	if err := p.Cycle(ctx, &state); err == nil {
		t.Fatalf("expected error when run state cannot be persisted")
	}
	if state.ConsecutiveErrors != 1 {
		t.Fatalf("consecutive errors = %d, want 1", state.ConsecutiveErrors)
	}
}

func TestRunKeepsNormalIntervalOnPhaseFailure(t *testing.T) {
	p, r := newPoller(t, succeed)
	if _, err := r.DB.Exec(`DROP TABLE proposals`); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var pauses []time.Duration
	p.Sleep = func(d time.Duration) {
		pauses = append(pauses, d)
		if len(pauses) >= 6 {
			cancel()
		}
	}
	if err := p.Run(ctx); err == nil {
		t.Fatalf("expected context error on cancel")
	}
	if len(pauses) != 6 {
		t.Fatalf("pauses = %d, want 6", len(pauses))
	}
	for i, d := range pauses {
		if d != p.Interval {
			t.Fatalf("pause %d = %v, want normal interval %v despite failing phase", i, d, p.Interval)
		}
	}
}

func TestDetectStale(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	approveProposal(t, p.Builder, "Ship it")
	if _, err := p.Builder.RunPending(ctx); err != nil {
		t.Fatal(err)
	}

	steps, _ := r.ListRunningSteps(ctx)
	if len(steps) != 0 {
		t.Fatalf("no steps should be running yet")
	}
	next, err := r.NextQueuedStep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// claimed two hours ago with a 30 minute budget
	if _, err := r.ClaimStep(ctx, next.ID, "2025-06-01T10:00:00Z"); err != nil {
		t.Fatal(err)
	}

	reaped, err := p.DetectStale(ctx)
	if err != nil {
		t.Fatalf("detect stale: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	got, _ := r.ListStepsByMission(ctx, next.MissionID)
	if got[0].Status != "failed" {
		t.Fatalf("stale step status = %q", got[0].Status)
	}
	if got[0].Error == nil || !strings.Contains(*got[0].Error, "(detected by poller)") {
		t.Fatalf("stale step error: %v", got[0].Error)
	}
	counts, _ := r.CountEventsByType(ctx)
	if counts["step_stale"] != 1 {
		t.Fatalf("step_stale events = %d, want 1", counts["step_stale"])
	}
}

func TestDetectStaleLeavesFreshStepsAlone(t *testing.T) {
	p, r := newPoller(t, succeed)
	ctx := context.Background()
	approveProposal(t, p.Builder, "Ship it")
	if _, err := p.Builder.RunPending(ctx); err != nil {
		t.Fatal(err)
	}
	next, _ := r.NextQueuedStep(ctx)
	// claimed five minutes ago, well within the 30 minute budget
	if _, err := r.ClaimStep(ctx, next.ID, "2025-06-01T11:55:00Z"); err != nil {
		t.Fatal(err)
	}
	reaped, err := p.DetectStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 0 {
		t.Fatalf("reaped = %d, want 0", reaped)
	}
	got, _ := r.ListStepsByMission(ctx, next.MissionID)
	if got[0].Status != "running" {
		t.Fatalf("fresh step status = %q, want running", got[0].Status)
	}
}

func TestRunPersistsStateAndStopsOnCancel(t *testing.T) {
	p, r := newPoller(t, succeed)
	approveProposal(t, p.Builder, "Ship it")

	ctx, cancel := context.WithCancel(context.Background())
	cycles := 0
	p.Sleep = func(time.Duration) {
		cycles++
		if cycles >= 2 {
			cancel()
		}
	}
	err := p.Run(ctx)
	if err == nil {
		t.Fatalf("expected context error on cancel")
	}

	state, err := r.LoadRunState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.LastRun == "" {
		t.Fatalf("run state not persisted: %+v", state)
	}
	if state.StepsProcessed == 0 {
		t.Fatalf("steps processed not persisted: %+v", state)
	}
}
