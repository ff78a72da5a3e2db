package repo

import (
	"context"
	"database/sql"

	"warroom/internal/domain"
)

const stepCols = `id,mission_id,title,COALESCE(description,'') AS description,kind,position,assigned_to,COALESCE(model,''),escalate,status,output,error,timeout_minutes,started_at,completed_at,created_at`

func scanStep(scan func(dest ...any) error) (domain.Step, error) {
	var s domain.Step
	var output, errText, startedAt, completedAt sql.NullString
	var escalate int
	err := scan(&s.ID, &s.MissionID, &s.Title, &s.Description, &s.Kind, &s.Position, &s.AssignedTo, &s.Model,
		&escalate, &s.Status, &output, &errText, &s.TimeoutMinutes, &startedAt, &completedAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Escalate = escalate != 0
	if output.Valid {
		s.Output = &output.String
	}
	if errText.Valid {
		s.Error = &errText.String
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	return s, nil
}

func (r Repo) InsertStepTx(ctx context.Context, tx *sql.Tx, s domain.Step) error {
	escalate := 0
	if s.Escalate {
		escalate = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO steps(id,mission_id,title,description,kind,position,assigned_to,model,escalate,status,timeout_minutes,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.MissionID, s.Title, nullable(s.Description), s.Kind, s.Position, s.AssignedTo, nullable(s.Model), escalate, s.Status, s.TimeoutMinutes, s.CreatedAt)
	return err
}

func (r Repo) GetStep(ctx context.Context, id string) (domain.Step, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepCols+` FROM steps WHERE id=?`, id)
	return scanStep(row.Scan)
}

// ListStepsByMission returns a mission's steps in creation order.
func (r Repo) ListStepsByMission(ctx context.Context, missionID string) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+stepCols+` FROM steps WHERE mission_id=? ORDER BY position ASC, created_at ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextQueuedStep returns the globally oldest queued step.
func (r Repo) NextQueuedStep(ctx context.Context) (domain.Step, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+stepCols+` FROM steps WHERE status='queued' ORDER BY created_at ASC, position ASC, id ASC LIMIT 1`)
	return scanStep(row.Scan)
}

// ClaimStep atomically moves a queued step to running. The status guard makes
// the claim safe against concurrent pollers: only one caller sees true.
func (r Repo) ClaimStep(ctx context.Context, id, startedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE steps SET status='running', started_at=? WHERE id=? AND status='queued'`, startedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkStepRunning unconditionally moves a step to running. Used by the
// sequential mission path where the caller already owns the mission.
func (r Repo) MarkStepRunning(ctx context.Context, id, startedAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE steps SET status='running', started_at=? WHERE id=?`, startedAt, id)
	return err
}

// FinishStep records a step's terminal status and captured output.
func (r Repo) FinishStep(ctx context.Context, id, status string, output, errText *string, completedAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE steps SET status=?, output=?, error=?, completed_at=? WHERE id=?`,
		status, nullableStringPtr(output), nullableStringPtr(errText), completedAt, id)
	return err
}

// ListRunningSteps returns all steps currently marked running.
func (r Repo) ListRunningSteps(ctx context.Context) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepCols+` FROM steps WHERE status='running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FailStep forces a step to failed with the given error text.
func (r Repo) FailStep(ctx context.Context, id, errText, completedAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE steps SET status='failed', error=?, completed_at=? WHERE id=?`, errText, completedAt, id)
	return err
}

// StepAgents returns the distinct agent ids assigned to a mission's steps.
func (r Repo) StepAgents(ctx context.Context, missionID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT assigned_to FROM steps WHERE mission_id=? ORDER BY assigned_to`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var agents []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
