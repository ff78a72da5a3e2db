// Package poller drives the scheduling loop: it turns approved proposals
// into missions, executes queued steps one at a time, and reaps steps whose
// process died without reporting back.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warroom/internal/config"
	"warroom/internal/domain"
	"warroom/internal/events"
	"warroom/internal/executor"
	"warroom/internal/mission"
	"warroom/internal/repo"
)

const (
	// errorThreshold is the consecutive-failure count at which the loop
	// backs off instead of polling at the normal interval.
	errorThreshold = 5
	backoffPause   = 60 * time.Second
)

// Poller owns the long-running loop. Interval, Sleep and Now are injectable
// so tests can run cycles synchronously.
type Poller struct {
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Builder  mission.Builder
	Exec     executor.Executor
	Interval time.Duration
	Log      *slog.Logger
	Now      func() time.Time
	Sleep    func(time.Duration)
}

func New(builder mission.Builder, exec executor.Executor, cfg *config.Config) Poller {
	interval := 10 * time.Second
	if cfg != nil && cfg.Poller.IntervalSeconds > 0 {
		interval = time.Duration(cfg.Poller.IntervalSeconds) * time.Second
	}
	return Poller{
		Repo:     builder.Repo,
		Events:   builder.Events,
		Config:   cfg,
		Builder:  builder,
		Exec:     exec,
		Interval: interval,
		Now:      time.Now,
		Sleep:    time.Sleep,
	}
}

func (p Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Poller) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func (p Poller) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Cycle runs one poll pass. The phases are best-effort and independent: a
// failure in one is logged and the rest still run. Reaching the bookkeeping
// at the end of the pass resets the consecutive-error counter; only failing
// to persist the run state counts against it.
func (p Poller) Cycle(ctx context.Context, state *domain.RunState) error {
	start := p.now().UTC()

	missions, err := p.Builder.RunPending(ctx)
	if err != nil {
		p.log().Error("proposal intake failed", "err", err)
	}

	step, err := p.Exec.ExecuteNext(ctx)
	if err != nil {
		p.log().Error("step execution failed", "err", err)
	}
	if step != nil {
		state.StepsProcessed++
	}

	stale, err := p.DetectStale(ctx)
	if err != nil {
		p.log().Error("stale detection failed", "err", err)
	}

	p.Events.Emit(ctx, "heartbeat", "poller", "poller", events.Payload{
		"agent":          "poller",
		"new_missions":   len(missions),
		"step_executed":  step != nil,
		"stale_detected": stale,
		"timestamp":      start.Format(time.RFC3339),
	})

	state.LastRun = start.Format(time.RFC3339)
	state.ConsecutiveErrors = 0
	if err := p.Repo.SaveRunState(ctx, *state, p.now().UTC().Format(time.RFC3339)); err != nil {
		state.ConsecutiveErrors++
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

// DetectStale fails running steps whose started_at is older than their
// timeout allows, covering processes that died without reporting back.
// Returns how many steps were reaped.
func (p Poller) DetectStale(ctx context.Context) (int, error) {
	steps, err := p.Repo.ListRunningSteps(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running steps: %w", err)
	}
	now := p.now().UTC()
	var reaped int
	for _, s := range steps {
		if s.StartedAt == nil {
			continue
		}
		started, err := time.Parse(time.RFC3339, *s.StartedAt)
		if err != nil {
			continue
		}
		timeout := s.TimeoutMinutes
		if timeout <= 0 {
			timeout = p.defaultTimeout()
		}
		if now.Sub(started) <= time.Duration(timeout)*time.Minute {
			continue
		}
		msg := fmt.Sprintf("step timed out after %d minutes (detected by poller)", timeout)
		if err := p.Repo.FailStep(ctx, s.ID, msg, now.Format(time.RFC3339)); err != nil {
			p.log().Error("fail stale step", "step", s.ID, "err", err)
			continue
		}
		p.Events.Emit(ctx, "step_stale", "step", s.ID, events.Payload{
			"step_id":    s.ID,
			"mission_id": s.MissionID,
			"error":      msg,
		})
		reaped++
	}
	return reaped, nil
}

func (p Poller) defaultTimeout() int {
	if p.Config != nil && p.Config.Poller.DefaultTimeoutMinutes > 0 {
		return p.Config.Poller.DefaultTimeoutMinutes
	}
	return 30
}

// Run polls until ctx is cancelled. Each cycle persists run state so a
// restart resumes counters. After errorThreshold consecutive bookkeeping
// failures the loop pauses before polling again.
func (p Poller) Run(ctx context.Context) error {
	state, err := p.Repo.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	p.log().Info("poller started", "interval", p.Interval)

	for {
		if err := p.Cycle(ctx, &state); err != nil {
			p.log().Warn("poll cycle failed", "consecutive_errors", state.ConsecutiveErrors, "err", err)
		}

		pause := p.Interval
		if state.ConsecutiveErrors >= errorThreshold {
			p.log().Warn("too many consecutive errors, backing off", "pause", backoffPause)
			pause = backoffPause
		}
		select {
		case <-ctx.Done():
			p.log().Info("poller stopped", "steps_processed", state.StepsProcessed)
			return ctx.Err()
		default:
		}
		p.sleep(pause)
		select {
		case <-ctx.Done():
			p.log().Info("poller stopped", "steps_processed", state.StepsProcessed)
			return ctx.Err()
		default:
		}
	}
}
