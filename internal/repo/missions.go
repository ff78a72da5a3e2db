package repo

import (
	"context"
	"database/sql"
	"strings"

	"warroom/internal/domain"
)

const missionCols = `id,proposal_id,project_id,title,assigned_to,status,created_at,completed_at`

func scanMission(scan func(dest ...any) error) (domain.Mission, error) {
	var m domain.Mission
	var proposalID, projectID, completedAt sql.NullString
	err := scan(&m.ID, &proposalID, &projectID, &m.Title, &m.AssignedTo, &m.Status, &m.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if proposalID.Valid {
		m.ProposalID = &proposalID.String
	}
	if projectID.Valid {
		m.ProjectID = &projectID.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.String
	}
	return m, nil
}

func (r Repo) InsertMissionTx(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(id,proposal_id,project_id,title,assigned_to,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, nullableStringPtr(m.ProposalID), nullableStringPtr(m.ProjectID), m.Title, m.AssignedTo, m.Status, m.CreatedAt)
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE id=?`, id)
	return scanMission(row.Scan)
}

type MissionFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + missionCols + ` FROM missions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MissionProposalIDs returns the set of proposal ids that already have a
// mission, used to keep mission creation idempotent per proposal.
func (r Repo) MissionProposalIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT proposal_id FROM missions WHERE proposal_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkMissionRunning flips a queued mission to running; already-running or
// terminal missions are left alone.
func (r Repo) MarkMissionRunning(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE missions SET status='running' WHERE id=? AND status='queued'`, id)
	return err
}

// CompleteMissionOnce flips a mission to completed iff it is not already
// terminal. Returns true when this call performed the transition, so
// completion side effects fire exactly once.
func (r Repo) CompleteMissionOnce(ctx context.Context, id, completedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE missions SET status='completed', completed_at=? WHERE id=? AND status NOT IN ('completed','failed')`,
		completedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountOpenSteps returns how many of a mission's steps are still outside a
// terminal status.
func (r Repo) CountOpenSteps(ctx context.Context, missionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE mission_id=? AND status NOT IN ('completed','failed')`, missionID).Scan(&n)
	return n, err
}

// CountFailedSteps returns how many of a mission's steps failed.
func (r Repo) CountFailedSteps(ctx context.Context, missionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE mission_id=? AND status='failed'`, missionID).Scan(&n)
	return n, err
}

// CountRunningMissionsForAgent counts running missions assigned to an agent.
func (r Repo) CountRunningMissionsForAgent(ctx context.Context, agentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions WHERE assigned_to=? AND status='running'`, agentID).Scan(&n)
	return n, err
}

// CountMissionsByStatus groups missions by status.
func (r Repo) CountMissionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM missions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountProposalsByStatus groups proposals by status.
func (r Repo) CountProposalsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM proposals GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
