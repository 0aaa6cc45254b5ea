package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
	"golang.org/x/sync/errgroup"
)

// Loop is a background task that runs until its context is cancelled.
type Loop interface {
	Run(ctx context.Context)
}

// Reaper runs Orchestrator.Reap on a fixed interval.
type Reaper struct {
	orch     *Orchestrator
	interval time.Duration
}

// NewReaper creates a Reaper. A non-positive interval defaults to one minute.
func NewReaper(orch *Orchestrator, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{orch: orch, interval: interval}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.orch.Reap(ctx)
			if err != nil && ctx.Err() == nil {
				r.orch.logger.Error("reaper sweep failed", "error", err)
			}
			if n > 0 {
				r.orch.logger.Info("reaper sweep", "failed_jobs", n)
			}
		}
	}
}

// StatusSource is the pull side of the trainer boundary.
type StatusSource interface {
	Poll(ctx context.Context, handle string) (trainer.Update, error)
}

// Poller asks the trainer for the status of jobs whose callbacks have gone
// quiet and feeds the answers through Orchestrator.Reconcile.
type Poller struct {
	orch      *Orchestrator
	source    StatusSource
	interval  time.Duration
	pollAfter time.Duration
	timeout   time.Duration
}

// NewPoller creates a Poller that checks every interval for training jobs
// without progress for longer than pollAfter.
func NewPoller(orch *Orchestrator, source StatusSource, interval, pollAfter time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if pollAfter <= 0 {
		pollAfter = 2 * time.Minute
	}
	return &Poller{orch: orch, source: source, interval: interval, pollAfter: pollAfter, timeout: 10 * time.Second}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.orch.logger.Error("poll sweep failed", "error", err)
			}
		}
	}
}

// RunOnce polls every quiet training job once and returns how many polls
// changed a job.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.orch.store.ListTrainingJobsByStatus(storage.JobTraining)
	if err != nil {
		return 0, fmt.Errorf("listing training jobs: %w", err)
	}

	now := p.orch.clock.Now()
	applied := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if now.Sub(j.LastProgressAt) <= p.pollAfter {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		u, err := p.source.Poll(pctx, j.RemoteHandle())
		cancel()
		if err != nil {
			p.orch.logger.Warn("polling trainer failed", "job_id", j.ID, "handle", j.RemoteHandle(), "error", err)
			continue
		}
		u.Handle = j.Handle

		outcome, err := p.orch.Reconcile(ctx, u)
		if err != nil {
			p.orch.logger.Warn("reconciling polled status failed", "job_id", j.ID, "error", err)
			continue
		}
		p.orch.logger.Debug("polled job status", "job_id", j.ID, "status", string(u.Status), "outcome", outcome.String())
		if outcome == Applied {
			applied++
		}
	}
	return applied, nil
}

// Background runs a set of loops under one errgroup.
type Background struct {
	cancel context.CancelFunc
	done   chan error
	logger *slog.Logger
}

// StartBackground starts every loop in its own goroutine.
func StartBackground(parent context.Context, logger *slog.Logger, loops ...Loop) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			l.Run(gctx)
			return nil
		})
	}

	b := &Background{cancel: cancel, done: make(chan error, 1), logger: logger}
	go func() { b.done <- g.Wait() }()
	return b
}

// Stop cancels the loops and waits up to grace for them to return. Loops
// still running after grace are abandoned.
func (b *Background) Stop(grace time.Duration) error {
	b.cancel()
	select {
	case err := <-b.done:
		return err
	case <-time.After(grace):
		b.logger.Warn("background loops did not stop in time", "grace", grace)
		return fmt.Errorf("background loops still running after %s", grace)
	}
}
