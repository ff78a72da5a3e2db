package mission_test

import (
	"context"
	"testing"
	"time"

	"warroom/internal/config"
	"warroom/internal/db"
	"warroom/internal/migrate"
	"warroom/internal/mission"
)

func newBuilder(t *testing.T) mission.Builder {
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
	b := mission.New(conn, config.Default())
	b.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestCreateProposalDefaults(t *testing.T) {
	b := newBuilder(t)
	ctx := context.Background()
	p, err := b.CreateProposal(ctx, mission.ProposalOptions{Title: "Ship feature", RequestedBy: "tester"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if p.Status != "pending" {
		t.Fatalf("status = %q, want pending", p.Status)
	}
	if p.Domain != "engineering" {
		t.Fatalf("domain = %q, want engineering", p.Domain)
	}
	if p.Source != "manual" {
		t.Fatalf("source = %q, want manual", p.Source)
	}
	if _, err := b.CreateProposal(ctx, mission.ProposalOptions{}); err == nil {
		t.Fatalf("expected error for missing title")
	}
}

func TestApproveAndRejectProposal(t *testing.T) {
	b := newBuilder(t)
	ctx := context.Background()
	p, err := b.CreateProposal(ctx, mission.ProposalOptions{Title: "One", RequestedBy: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	approved, err := b.ApproveProposal(ctx, p.ID, "boss")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != "approved" || approved.ApprovedBy == nil || *approved.ApprovedBy != "boss" {
		t.Fatalf("approved proposal: %+v", approved)
	}
	// approving again fails: it is no longer pending
	if _, err := b.ApproveProposal(ctx, p.ID, "boss"); err == nil {
		t.Fatalf("expected error approving twice")
	}

	p2, err := b.CreateProposal(ctx, mission.ProposalOptions{Title: "Two", RequestedBy: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := b.RejectProposal(ctx, p2.ID, "out of scope")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != "rejected" {
		t.Fatalf("rejected proposal: %+v", rejected)
	}
}

func TestRunPendingBuildsThreeStepPlan(t *testing.T) {
	b := newBuilder(t)
	ctx := context.Background()
	p, err := b.CreateProposal(ctx, mission.ProposalOptions{
		Title:       "Add checkout",
		Description: "New checkout flow",
		Domain:      "commerce",
		RequestedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApproveProposal(ctx, p.ID, "boss"); err != nil {
		t.Fatal(err)
	}

	missions, err := b.RunPending(ctx)
	if err != nil {
		t.Fatalf("run pending: %v", err)
	}
	if len(missions) != 1 {
		t.Fatalf("created %d missions, want 1", len(missions))
	}
	m := missions[0]
	if m.Status != "queued" {
		t.Fatalf("mission status = %q, want queued", m.Status)
	}
	if m.AssignedTo != "toji" {
		t.Fatalf("primary agent = %q, want toji (commerce)", m.AssignedTo)
	}
	if len(m.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(m.Steps))
	}
	wantTitles := []string{"Research: Add checkout", "Implement: Add checkout", "Review: Add checkout"}
	wantKinds := []string{"research", "code", "review"}
	for i, s := range m.Steps {
		if s.Title != wantTitles[i] {
			t.Fatalf("step %d title = %q, want %q", i, s.Title, wantTitles[i])
		}
		if s.Kind != wantKinds[i] {
			t.Fatalf("step %d kind = %q, want %q", i, s.Kind, wantKinds[i])
		}
		if s.Position != i {
			t.Fatalf("step %d position = %d", i, s.Position)
		}
		if s.Status != "queued" {
			t.Fatalf("step %d status = %q", i, s.Status)
		}
		if s.AssignedTo != "toji" {
			t.Fatalf("step %d agent = %q, want toji", i, s.AssignedTo)
		}
		if s.TimeoutMinutes != 30 {
			t.Fatalf("step %d timeout = %d, want 30", i, s.TimeoutMinutes)
		}
	}

	// a second pass creates nothing: the proposal already has a mission
	again, err := b.RunPending(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second run created %d missions, want 0", len(again))
	}
}

func TestRunPendingFallsBackToEngineering(t *testing.T) {
	b := newBuilder(t)
	ctx := context.Background()
	p, err := b.CreateProposal(ctx, mission.ProposalOptions{
		Title:       "Mystery work",
		Domain:      "astrology",
		RequestedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApproveProposal(ctx, p.ID, "boss"); err != nil {
		t.Fatal(err)
	}
	missions, err := b.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(missions) != 1 || missions[0].AssignedTo != "ed" {
		t.Fatalf("unknown domain should fall back to engineering agent, got %+v", missions)
	}
}

func TestMissionEventsEmitted(t *testing.T) {
	b := newBuilder(t)
	ctx := context.Background()
	p, _ := b.CreateProposal(ctx, mission.ProposalOptions{Title: "Evented", RequestedBy: "tester"})
	b.ApproveProposal(ctx, p.ID, "boss")
	if _, err := b.RunPending(ctx); err != nil {
		t.Fatal(err)
	}
	counts, err := b.Repo.CountEventsByType(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	for _, typ := range []string{"proposal_created", "proposal_approved", "mission_started"} {
		if counts[typ] == 0 {
			t.Fatalf("expected %s event, got counts %v", typ, counts)
		}
	}
}
