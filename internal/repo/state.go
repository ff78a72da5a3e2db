package repo

import (
	"context"
	"database/sql"

	"warroom/internal/domain"
)

// LoadRunState reads the poller's persisted bookkeeping record. A missing row
// yields a zero state, not an error, so a fresh store starts cleanly.
func (r Repo) LoadRunState(ctx context.Context) (domain.RunState, error) {
	var s domain.RunState
	var lastRun sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT last_run, steps_processed, consecutive_errors FROM run_state WHERE id=1`).
		Scan(&lastRun, &s.StepsProcessed, &s.ConsecutiveErrors)
	if err == sql.ErrNoRows {
		return domain.RunState{}, nil
	}
	if err != nil {
		return domain.RunState{}, err
	}
	if lastRun.Valid {
		s.LastRun = lastRun.String
	}
	return s, nil
}

// SaveRunState upserts the single run-state row.
func (r Repo) SaveRunState(ctx context.Context, s domain.RunState, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO run_state(id,last_run,steps_processed,consecutive_errors,updated_at) VALUES (1,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET last_run=excluded.last_run, steps_processed=excluded.steps_processed, consecutive_errors=excluded.consecutive_errors, updated_at=excluded.updated_at`,
		nullable(s.LastRun), s.StepsProcessed, s.ConsecutiveErrors, updatedAt)
	return err
}

// MarkAgentBusy records that an agent picked up mission work.
func (r Repo) MarkAgentBusy(ctx context.Context, agentID, missionID, heartbeat string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_state(agent_id,status,current_mission_id,last_heartbeat) VALUES (?,'busy',?,?)
ON CONFLICT(agent_id) DO UPDATE SET status='busy', current_mission_id=excluded.current_mission_id, last_heartbeat=excluded.last_heartbeat`,
		agentID, missionID, heartbeat)
	return err
}

// MarkAgentIdle clears an agent's current mission.
func (r Repo) MarkAgentIdle(ctx context.Context, agentID, heartbeat string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_state(agent_id,status,current_mission_id,last_heartbeat) VALUES (?,'idle',NULL,?)
ON CONFLICT(agent_id) DO UPDATE SET status='idle', current_mission_id=NULL, last_heartbeat=excluded.last_heartbeat`,
		agentID, heartbeat)
	return err
}

// GetAgentState returns an agent's state row.
func (r Repo) GetAgentState(ctx context.Context, agentID string) (domain.AgentState, error) {
	var s domain.AgentState
	var missionID, heartbeat sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT agent_id,status,current_mission_id,last_heartbeat FROM agent_state WHERE agent_id=?`, agentID).
		Scan(&s.AgentID, &s.Status, &missionID, &heartbeat)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if missionID.Valid {
		s.CurrentMissionID = &missionID.String
	}
	if heartbeat.Valid {
		s.LastHeartbeat = &heartbeat.String
	}
	return s, nil
}

// ListAgentStates returns all agent state rows.
func (r Repo) ListAgentStates(ctx context.Context) ([]domain.AgentState, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT agent_id,status,current_mission_id,last_heartbeat FROM agent_state ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentState
	for rows.Next() {
		var s domain.AgentState
		var missionID, heartbeat sql.NullString
		if err := rows.Scan(&s.AgentID, &s.Status, &missionID, &heartbeat); err != nil {
			return nil, err
		}
		if missionID.Valid {
			s.CurrentMissionID = &missionID.String
		}
		if heartbeat.Valid {
			s.LastHeartbeat = &heartbeat.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
