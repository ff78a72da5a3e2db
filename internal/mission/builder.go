// Package mission expands approved proposals into missions of ordered,
// agent-assigned steps.
package mission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warroom/internal/affinity"
	"warroom/internal/config"
	"warroom/internal/domain"
	"warroom/internal/events"
	"warroom/internal/repo"
)

// Builder creates missions and their steps against the shared store.
type Builder struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Affinity affinity.Store
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Builder {
	r := repo.Repo{DB: db}
	return Builder{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Affinity: affinity.Store{Repo: r},
		Now:      time.Now,
	}
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// StepSpec describes one step to be created with a mission.
type StepSpec struct {
	Title          string
	Description    string
	Kind           string
	Domain         string
	TimeoutMinutes int
}

// CreateMissionOptions are parameters for creating a mission with its steps.
type CreateMissionOptions struct {
	ProposalID   string
	ProjectID    *string
	Title        string
	Description  string
	PrimaryAgent string
	Steps        []StepSpec
}

// CreateMission inserts a mission and its steps atomically, resolving each
// step's agent by direct domain match first and affinity ranking otherwise,
// then emits a mission_started event. A store failure here is fatal to the
// caller; there is no partial-state reconciliation.
func (b Builder) CreateMission(ctx context.Context, opts CreateMissionOptions) (domain.Mission, error) {
	if b.DB == nil {
		return domain.Mission{}, fmt.Errorf("store not configured")
	}
	if opts.Title == "" {
		return domain.Mission{}, fmt.Errorf("title is required")
	}
	if opts.PrimaryAgent == "" {
		return domain.Mission{}, fmt.Errorf("primary agent is required")
	}
	now := b.now().UTC().Format(time.RFC3339)

	m := domain.Mission{
		ID:         uuid.NewString(),
		Title:      opts.Title,
		AssignedTo: opts.PrimaryAgent,
		Status:     "queued",
		ProjectID:  opts.ProjectID,
		CreatedAt:  now,
	}
	if opts.ProposalID != "" {
		m.ProposalID = &opts.ProposalID
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := b.Repo.InsertMissionTx(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	for i, spec := range opts.Steps {
		timeout := spec.TimeoutMinutes
		if timeout <= 0 {
			timeout = b.defaultTimeout()
		}
		kind := spec.Kind
		if kind == "" {
			kind = "code"
		}
		s := domain.Step{
			ID:             uuid.NewString(),
			MissionID:      m.ID,
			Title:          spec.Title,
			Description:    spec.Description,
			Kind:           kind,
			Position:       i,
			AssignedTo:     b.resolveAgent(ctx, opts.PrimaryAgent, spec.Domain),
			Model:          b.Config.Models.Worker,
			Status:         "queued",
			TimeoutMinutes: timeout,
			CreatedAt:      now,
		}
		if err := b.Repo.InsertStepTx(ctx, tx, s); err != nil {
			return domain.Mission{}, fmt.Errorf("insert step %q: %w", spec.Title, err)
		}
		m.Steps = append(m.Steps, s)
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}

	b.Events.Emit(ctx, "mission_started", "mission", m.ID, events.Payload{
		"mission_id":  m.ID,
		"proposal_id": opts.ProposalID,
		"title":       m.Title,
		"assigned_to": m.AssignedTo,
		"step_count":  len(m.Steps),
	})
	return m, nil
}

// resolveAgent maps a step's domain to its registered agent, falling back to
// the primary agent's best collaborator across the whole registry.
func (b Builder) resolveAgent(ctx context.Context, primary, stepDomain string) string {
	if a, ok := b.Config.AgentForDomain(stepDomain); ok {
		return a.ID
	}
	return b.Affinity.BestCollaborator(ctx, primary, b.Config.AgentIDs())
}

func (b Builder) defaultTimeout() int {
	if b.Config != nil && b.Config.Poller.DefaultTimeoutMinutes > 0 {
		return b.Config.Poller.DefaultTimeoutMinutes
	}
	return 30
}

// RunPending finds approved proposals without missions and expands each into
// a fixed research -> implement -> review plan.
func (b Builder) RunPending(ctx context.Context) ([]domain.Mission, error) {
	proposals, err := b.Repo.ListProposals(ctx, "approved")
	if err != nil {
		return nil, fmt.Errorf("list approved proposals: %w", err)
	}
	if len(proposals) == 0 {
		return nil, nil
	}
	existing, err := b.Repo.MissionProposalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mission proposal ids: %w", err)
	}

	var created []domain.Mission
	for _, p := range proposals {
		if existing[p.ID] {
			continue
		}
		primary := b.Config.FallbackAgent()
		if a, ok := b.Config.AgentForDomain(p.Domain); ok {
			primary = a.ID
		}
		m, err := b.CreateMission(ctx, CreateMissionOptions{
			ProposalID:   p.ID,
			ProjectID:    p.ProjectID,
			Title:        p.Title,
			Description:  p.Description,
			PrimaryAgent: primary,
			Steps:        planSteps(p),
		})
		if err != nil {
			return created, fmt.Errorf("create mission for proposal %s: %w", p.ID, err)
		}
		created = append(created, m)
	}
	return created, nil
}

// planSteps is the fixed three-step decomposition applied to every approved
// proposal.
func planSteps(p domain.Proposal) []StepSpec {
	return []StepSpec{
		{
			Title:       "Research: " + p.Title,
			Description: "Research and plan implementation for: " + p.Description,
			Kind:        "research",
			Domain:      p.Domain,
		},
		{
			Title:       "Implement: " + p.Title,
			Description: "Code implementation for: " + p.Description,
			Kind:        "code",
			Domain:      p.Domain,
		},
		{
			Title:       "Review: " + p.Title,
			Description: "Review and validate implementation of: " + p.Description,
			Kind:        "review",
			Domain:      p.Domain,
		},
	}
}
