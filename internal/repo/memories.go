package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"warroom/internal/domain"
)

const memoryCols = `id,agent_id,memory_type,content,tags,confidence,source_mission_id,status,created_at`

func scanMemory(scan func(dest ...any) error) (domain.Memory, error) {
	var m domain.Memory
	var tags string
	var sourceMission sql.NullString
	err := scan(&m.ID, &m.AgentID, &m.Type, &m.Content, &tags, &m.Confidence, &sourceMission, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if sourceMission.Valid {
		m.SourceMissionID = &sourceMission.String
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return m, fmt.Errorf("decode memory tags: %w", err)
	}
	return m, nil
}

func (r Repo) InsertMemory(ctx context.Context, m domain.Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("encode memory tags: %w", err)
	}
	if m.Tags == nil {
		tags = []byte("[]")
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO agent_memory(id,agent_id,memory_type,content,tags,confidence,source_mission_id,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.AgentID, m.Type, m.Content, string(tags), m.Confidence, nullableStringPtr(m.SourceMissionID), m.Status, m.CreatedAt)
	return err
}

// ListActiveMemories returns an agent's active memories ordered by confidence
// then recency, capped at limit.
func (r Repo) ListActiveMemories(ctx context.Context, agentID string, limit int) ([]domain.Memory, error) {
	query := `SELECT ` + memoryCols + ` FROM agent_memory WHERE agent_id=? AND status='active' ORDER BY confidence DESC, created_at DESC`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
