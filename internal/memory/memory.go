// Package memory distills learnings from step output via a cheap-tier model
// call and serves them back for prompt augmentation. Everything here is
// best-effort: failures yield empty results, never errors.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"warroom/internal/domain"
	"warroom/internal/repo"
	"warroom/internal/runner"
)

const (
	// maxStored caps how many extracted learnings are kept per step.
	maxStored = 3
	// maxInputChars truncates step output before embedding it in the
	// extraction instruction.
	maxInputChars = 3000
	// extractTimeout bounds the cheap-tier extraction call.
	extractTimeout = 60 * time.Second
)

// Service extracts and retrieves agent memories.
type Service struct {
	Repo  repo.Repo
	Run   runner.Func
	Model string
	Log   *slog.Logger
	Now   func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

type extracted struct {
	MemoryType string   `json:"memory_type"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Confidence *float64 `json:"confidence"`
}

// ExtractAndStore asks the cheap-tier model for up to three learnings from a
// step's output and stores them for the step's agent. Empty output is a
// no-op; parse failures, bad exits, and timeouts all yield an empty result.
func (s Service) ExtractAndStore(ctx context.Context, step domain.Step, output string) []domain.Memory {
	if s.Run == nil || strings.TrimSpace(output) == "" {
		return nil
	}
	out, err := s.Run(ctx, runner.Request{
		Model:       s.Model,
		Instruction: extractionInstruction(step, output),
		Timeout:     extractTimeout,
	})
	if err != nil || out.Kind != runner.Success {
		return nil
	}

	raw := strings.TrimSpace(out.Stdout)
	raw = stripCodeFence(raw)
	var entries []extracted
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	if len(entries) > maxStored {
		entries = entries[:maxStored]
	}

	now := s.now().UTC().Format(time.RFC3339)
	var stored []domain.Memory
	for _, e := range entries {
		m := domain.Memory{
			ID:         uuid.NewString(),
			AgentID:    step.AssignedTo,
			Type:       e.MemoryType,
			Content:    e.Content,
			Tags:       e.Tags,
			Confidence: clampConfidence(e.Confidence),
			Status:     "active",
			CreatedAt:  now,
		}
		if m.Type == "" {
			m.Type = "insight"
		}
		if step.MissionID != "" {
			missionID := step.MissionID
			m.SourceMissionID = &missionID
		}
		if err := s.Repo.InsertMemory(ctx, m); err != nil {
			s.log().Warn("memory store skipped", "agent", m.AgentID, "err", err)
			continue
		}
		stored = append(stored, m)
	}
	return stored
}

// RelevantMemories returns an agent's active memories ordered by confidence
// then recency. Query failures yield an empty list.
func (s Service) RelevantMemories(ctx context.Context, agentID string, limit int) []domain.Memory {
	if limit <= 0 {
		limit = 5
	}
	memories, err := s.Repo.ListActiveMemories(ctx, agentID, limit)
	if err != nil {
		s.log().Warn("memory lookup failed", "agent", agentID, "err", err)
		return nil
	}
	return memories
}

// FormatSection renders memories as a markdown section for prompt injection;
// an empty input yields an empty string.
func (s Service) FormatSection(memories []domain.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n## Recent Memories\n")
	for _, m := range memories {
		mtype := m.Type
		if mtype == "" {
			mtype = "insight"
		}
		fmt.Fprintf(&sb, "\n- [%s] %s (confidence: %.1f)", mtype, m.Content, m.Confidence)
	}
	return sb.String()
}

func extractionInstruction(step domain.Step, output string) string {
	if len(output) > maxInputChars {
		// back off to a rune boundary so the cut never leaves invalid UTF-8
		cut := maxInputChars
		for cut > 0 && !utf8.RuneStart(output[cut]) {
			cut--
		}
		output = output[:cut]
	}
	return fmt.Sprintf(`Analyze this step output and extract 1-3 key learnings.

Step: %s
Agent: %s

Output:
%s

Return a JSON array of objects with these fields:
- "memory_type": one of "insight", "pattern", "decision", "solution", "warning"
- "content": concise description of the learning (1-2 sentences)
- "tags": array of 2-4 relevant tags
- "confidence": float 0.0-1.0

Example:
[{"memory_type": "solution", "content": "Fixed auth by adding null check before profile access", "tags": ["auth", "null-check", "debugging"], "confidence": 0.85}]

Return ONLY the JSON array, no other text.`, step.Title, step.AssignedTo, output)
}

// stripCodeFence unwraps a markdown code block around the model's JSON.
func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[idx+1:]
	}
	if idx := strings.LastIndex(raw, "```"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

func clampConfidence(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	if *v < 0 {
		return 0
	}
	if *v > 1 {
		return 1
	}
	return *v
}
