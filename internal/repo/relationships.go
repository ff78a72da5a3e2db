package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"warroom/internal/domain"
)

// NormalizePair orders two agent ids lexicographically so each unordered pair
// maps to one relationship row.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// GetRelationship looks up the relationship for an unordered pair.
func (r Repo) GetRelationship(ctx context.Context, agentA, agentB string) (domain.Relationship, error) {
	a, b := NormalizePair(agentA, agentB)
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,agent_a,agent_b,affinity,drift_history,updated_at FROM agent_relationships WHERE agent_a=? AND agent_b=? LIMIT 1`, a, b)
	var rel domain.Relationship
	var history string
	err := row.Scan(&rel.ID, &rel.AgentA, &rel.AgentB, &rel.Affinity, &history, &rel.UpdatedAt)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	if err != nil {
		return rel, err
	}
	if err := json.Unmarshal([]byte(history), &rel.DriftHistory); err != nil {
		return rel, fmt.Errorf("decode drift history: %w", err)
	}
	return rel, nil
}

// InsertRelationship seeds a relationship row for a pair.
func (r Repo) InsertRelationship(ctx context.Context, rel domain.Relationship) error {
	a, b := NormalizePair(rel.AgentA, rel.AgentB)
	history, err := json.Marshal(rel.DriftHistory)
	if err != nil {
		return fmt.Errorf("encode drift history: %w", err)
	}
	if rel.DriftHistory == nil {
		history = []byte("[]")
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO agent_relationships(id,agent_a,agent_b,affinity,drift_history,updated_at) VALUES (?,?,?,?,?,?)`,
		rel.ID, a, b, rel.Affinity, string(history), rel.UpdatedAt)
	return err
}

// UpdateRelationship persists a new affinity and drift history for a row.
func (r Repo) UpdateRelationship(ctx context.Context, id string, affinity float64, history []domain.DriftEntry, updatedAt string) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode drift history: %w", err)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE agent_relationships SET affinity=?, drift_history=?, updated_at=? WHERE id=?`,
		affinity, string(data), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRelationships returns all relationships for display.
func (r Repo) ListRelationships(ctx context.Context) ([]domain.Relationship, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,agent_a,agent_b,affinity,drift_history,updated_at FROM agent_relationships ORDER BY agent_a, agent_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		var history string
		if err := rows.Scan(&rel.ID, &rel.AgentA, &rel.AgentB, &rel.Affinity, &history, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(history), &rel.DriftHistory); err != nil {
			return nil, fmt.Errorf("decode drift history: %w", err)
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}
