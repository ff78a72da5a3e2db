package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warroom/internal/domain"
	"warroom/internal/events"
)

// ProposalOptions are parameters for creating a proposal.
type ProposalOptions struct {
	Title       string
	Description string
	Domain      string
	RequestedBy string
	Source      string
	ProjectID   *string
}

// CreateProposal inserts a pending proposal and emits proposal_created.
func (b Builder) CreateProposal(ctx context.Context, opts ProposalOptions) (domain.Proposal, error) {
	if b.DB == nil {
		return domain.Proposal{}, fmt.Errorf("store not configured")
	}
	if opts.Title == "" {
		return domain.Proposal{}, fmt.Errorf("title is required")
	}
	if opts.Domain == "" {
		opts.Domain = "engineering"
	}
	if opts.Source == "" {
		opts.Source = "manual"
	}
	p := domain.Proposal{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Domain:      opts.Domain,
		Status:      "pending",
		RequestedBy: opts.RequestedBy,
		Source:      opts.Source,
		ProjectID:   opts.ProjectID,
		CreatedAt:   b.now().UTC().Format(time.RFC3339),
	}
	if err := b.Repo.InsertProposal(ctx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	b.Events.Emit(ctx, "proposal_created", "proposal", p.ID, events.Payload{
		"proposal_id":  p.ID,
		"title":        p.Title,
		"domain":       p.Domain,
		"requested_by": p.RequestedBy,
	})
	return p, nil
}

// ApproveProposal marks a proposal approved; the next poll cycle will expand
// it into a mission.
func (b Builder) ApproveProposal(ctx context.Context, id, approvedBy string) (domain.Proposal, error) {
	now := b.now().UTC().Format(time.RFC3339)
	if err := b.Repo.ApproveProposal(ctx, id, approvedBy, now); err != nil {
		return domain.Proposal{}, err
	}
	b.Events.Emit(ctx, "proposal_approved", "proposal", id, events.Payload{
		"proposal_id": id,
		"approved_by": approvedBy,
	})
	return b.Repo.GetProposal(ctx, id)
}

// RejectProposal marks a proposal rejected.
func (b Builder) RejectProposal(ctx context.Context, id, reason string) (domain.Proposal, error) {
	if err := b.Repo.RejectProposal(ctx, id); err != nil {
		return domain.Proposal{}, err
	}
	b.Events.Emit(ctx, "proposal_rejected", "proposal", id, events.Payload{
		"proposal_id": id,
		"reason":      reason,
	})
	return b.Repo.GetProposal(ctx, id)
}
