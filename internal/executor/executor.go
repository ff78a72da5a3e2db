// Package executor claims queued steps, spawns the external agent process,
// classifies the result, and drives mission completion side effects.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"warroom/internal/affinity"
	"warroom/internal/config"
	"warroom/internal/domain"
	"warroom/internal/events"
	"warroom/internal/memory"
	"warroom/internal/repo"
	"warroom/internal/runner"
)

// MemorySource augments prompts with prior learnings and extracts new ones.
// All methods are best-effort and must never fail the step.
type MemorySource interface {
	RelevantMemories(ctx context.Context, agentID string, limit int) []domain.Memory
	FormatSection(memories []domain.Memory) string
	ExtractAndStore(ctx context.Context, step domain.Step, output string) []domain.Memory
}

// Executor runs steps against the shared store.
type Executor struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Affinity affinity.Store
	Memories MemorySource
	Run      runner.Func
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Executor {
	r := repo.Repo{DB: db}
	run := runner.CLI(runner.DefaultBinary)
	return Executor{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Affinity: affinity.Store{Repo: r},
		Memories: memory.Service{Repo: r, Run: run, Model: cfg.Models.Cheap},
		Run:      run,
		Now:      time.Now,
	}
}

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Executor) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// ExecuteStep runs one step to a terminal status. Expected failure modes
// (non-zero exit, timeout, missing binary) become step state, not errors;
// only unexpected internal failures return an error.
func (e Executor) ExecuteStep(ctx context.Context, step domain.Step) (domain.Step, error) {
	timeout := step.TimeoutMinutes
	if timeout <= 0 {
		timeout = e.defaultTimeout()
	}

	prompt := e.loadPrompt(step.AssignedTo)
	if e.Memories != nil {
		memories := e.Memories.RelevantMemories(ctx, step.AssignedTo, 5)
		prompt += e.Memories.FormatSection(memories)
	}

	instruction := step.Description
	if instruction == "" {
		instruction = step.Title
	}
	out, err := e.Run(ctx, runner.Request{
		SystemPrompt: prompt,
		Model:        e.pickModel(ctx, step),
		Instruction:  instruction,
		Timeout:      time.Duration(timeout) * time.Minute,
	})
	if err != nil {
		return step, fmt.Errorf("spawn agent process: %w", err)
	}

	status := "completed"
	var output, errText *string
	switch out.Kind {
	case runner.Success:
		stdout := out.Stdout
		output = &stdout
	case runner.NonZeroExit:
		status = "failed"
		msg := out.Stderr
		if msg == "" {
			msg = fmt.Sprintf("agent process exited with code %d", out.ExitCode)
		}
		errText = &msg
	case runner.TimedOut:
		status = "failed"
		msg := fmt.Sprintf("step timed out after %d minutes", timeout)
		errText = &msg
	case runner.BinaryNotFound:
		status = "failed"
		msg := "agent binary not found; is it installed and on PATH?"
		errText = &msg
	}

	completedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.FinishStep(ctx, step.ID, status, output, errText, completedAt); err != nil {
		return step, fmt.Errorf("persist step result: %w", err)
	}
	step.Status = status
	step.Output = output
	step.Error = errText
	step.CompletedAt = &completedAt

	evtType := "step_completed"
	if status == "failed" {
		evtType = "step_failed"
	}
	e.Events.Emit(ctx, evtType, "step", step.ID, events.Payload{
		"step_id":    step.ID,
		"mission_id": step.MissionID,
		"status":     status,
		"output":     deref(output),
		"error":      deref(errText),
	})

	if status == "completed" && e.Memories != nil {
		e.Memories.ExtractAndStore(ctx, step, deref(output))
	}

	if err := e.checkMissionComplete(ctx, step.MissionID); err != nil {
		e.log().Warn("mission completion check failed", "mission", step.MissionID, "err", err)
	}
	e.refreshAgentState(ctx, step.AssignedTo)

	return step, nil
}

// ExecuteNext claims and runs the oldest queued step. Losing the claim race
// to another poller is normal and returns (nil, nil).
func (e Executor) ExecuteNext(ctx context.Context) (*domain.Step, error) {
	step, err := e.Repo.NextQueuedStep(ctx)
	if err == repo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next queued step: %w", err)
	}

	startedAt := e.now().UTC().Format(time.RFC3339)
	won, err := e.Repo.ClaimStep(ctx, step.ID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("claim step %s: %w", step.ID, err)
	}
	if !won {
		return nil, nil
	}
	step.Status = "running"
	step.StartedAt = &startedAt

	if err := e.Repo.MarkMissionRunning(ctx, step.MissionID); err != nil {
		e.log().Warn("mark mission running failed", "mission", step.MissionID, "err", err)
	}
	if err := e.Repo.MarkAgentBusy(ctx, step.AssignedTo, step.MissionID, startedAt); err != nil {
		e.log().Warn("mark agent busy failed", "agent", step.AssignedTo, "err", err)
	}

	done, err := e.ExecuteStep(ctx, step)
	if err != nil {
		return nil, err
	}
	return &done, nil
}

// ExecuteMission runs all of a mission's steps strictly sequentially in
// creation order. A failed step does not halt the remaining ones.
func (e Executor) ExecuteMission(ctx context.Context, missionID string) ([]domain.Step, error) {
	steps, err := e.Repo.ListStepsByMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("list mission steps: %w", err)
	}
	if err := e.Repo.MarkMissionRunning(ctx, missionID); err != nil {
		e.log().Warn("mark mission running failed", "mission", missionID, "err", err)
	}

	var results []domain.Step
	for _, step := range steps {
		startedAt := e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.MarkStepRunning(ctx, step.ID, startedAt); err != nil {
			e.log().Warn("mark step running failed", "step", step.ID, "err", err)
			continue
		}
		step.Status = "running"
		step.StartedAt = &startedAt
		done, err := e.ExecuteStep(ctx, step)
		if err != nil {
			e.log().Error("step execution failed unexpectedly", "step", step.ID, "err", err)
			continue
		}
		results = append(results, done)
	}
	return results, nil
}

// pickModel resolves the execution model: explicit per-step override first,
// then the escalation tier (step flag or multi-domain mission), then the
// worker default. The worker tag every step is created with does not count
// as an override.
func (e Executor) pickModel(ctx context.Context, step domain.Step) string {
	if step.Model != "" && step.Model != e.Config.Models.Worker {
		return step.Model
	}
	if step.Escalate || e.shouldEscalate(ctx, step.MissionID) {
		return e.Config.Models.Orchestrator
	}
	return e.Config.Models.Worker
}

// shouldEscalate reports whether a mission spans three or more distinct
// known domains. Agents missing from the registry contribute no domain.
func (e Executor) shouldEscalate(ctx context.Context, missionID string) bool {
	agents, err := e.Repo.StepAgents(ctx, missionID)
	if err != nil {
		return false
	}
	domains := map[string]bool{}
	for _, id := range agents {
		if a, ok := e.Config.AgentByID(id); ok {
			domains[a.Domain] = true
		}
	}
	return len(domains) >= 3
}

// checkMissionComplete marks the mission terminal once no step remains
// outside a terminal status, emitting mission_completed and applying
// affinity drift exactly once for that transition.
func (e Executor) checkMissionComplete(ctx context.Context, missionID string) error {
	open, err := e.Repo.CountOpenSteps(ctx, missionID)
	if err != nil {
		return err
	}
	if open != 0 {
		return nil
	}
	completedAt := e.now().UTC().Format(time.RFC3339)
	transitioned, err := e.Repo.CompleteMissionOnce(ctx, missionID, completedAt)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	e.Events.Emit(ctx, "mission_completed", "mission", missionID, events.Payload{
		"mission_id":   missionID,
		"completed_at": completedAt,
	})

	failed, err := e.Repo.CountFailedSteps(ctx, missionID)
	if err != nil {
		return err
	}
	agents, err := e.Repo.StepAgents(ctx, missionID)
	if err != nil {
		return err
	}
	e.Affinity.ApplyDrift(ctx, affinity.PairsOf(agents), failed == 0)
	return nil
}

// refreshAgentState flips an agent back to idle once it has no running
// missions left. Best-effort.
func (e Executor) refreshAgentState(ctx context.Context, agentID string) {
	running, err := e.Repo.CountRunningMissionsForAgent(ctx, agentID)
	if err != nil || running > 0 {
		return
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkAgentIdle(ctx, agentID, now); err != nil {
		e.log().Warn("mark agent idle failed", "agent", agentID, "err", err)
	}
}

// loadPrompt reads the agent's prompt file; a missing or unreadable prompt
// never fails the step.
func (e Executor) loadPrompt(agentID string) string {
	a, ok := e.Config.AgentByID(agentID)
	if !ok || a.PromptPath == "" {
		return ""
	}
	data, err := os.ReadFile(a.PromptPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func (e Executor) defaultTimeout() int {
	if e.Config != nil && e.Config.Poller.DefaultTimeoutMinutes > 0 {
		return e.Config.Poller.DefaultTimeoutMinutes
	}
	return 30
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
