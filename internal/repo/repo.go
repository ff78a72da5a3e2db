package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"warroom/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const proposalCols = `id,title,COALESCE(description,'') AS description,domain,status,requested_by,COALESCE(source,''),project_id,approved_by,approved_at,created_at`

func scanProposal(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var projectID, approvedBy, approvedAt sql.NullString
	err := scan(&p.ID, &p.Title, &p.Description, &p.Domain, &p.Status, &p.RequestedBy, &p.Source,
		&projectID, &approvedBy, &approvedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if projectID.Valid {
		p.ProjectID = &projectID.String
	}
	if approvedBy.Valid {
		p.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.String
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, p domain.Proposal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO proposals(id,title,description,domain,status,requested_by,source,project_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.Domain, p.Status, p.RequestedBy, nullable(p.Source), nullableStringPtr(p.ProjectID), p.CreatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

// ListProposals returns proposals ordered oldest first, optionally filtered
// by status.
func (r Repo) ListProposals(ctx context.Context, status string) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ApproveProposal marks a pending proposal approved and records who approved
// it. Returns an error when the proposal is missing or no longer pending.
func (r Repo) ApproveProposal(ctx context.Context, id, approvedBy, approvedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE proposals SET status='approved', approved_by=?, approved_at=? WHERE id=? AND status='pending'`,
		approvedBy, approvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.proposalTransitionError(ctx, id)
	}
	return nil
}

// RejectProposal marks a pending proposal rejected.
func (r Repo) RejectProposal(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE proposals SET status='rejected' WHERE id=? AND status='pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.proposalTransitionError(ctx, id)
	}
	return nil
}

func (r Repo) proposalTransitionError(ctx context.Context, id string) error {
	p, err := r.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("proposal %s is not pending (status %s)", p.ID, p.Status)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
