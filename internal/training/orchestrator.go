// Package training owns the training job state machine. It starts jobs,
// dispatches them to the remote trainer, applies progress and terminal
// reports from either the callback or the poll path, and fails jobs that
// stop reporting.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
)

// DispatchJobType is the outbox job type carrying a training job to the
// dispatcher.
const DispatchJobType = "training_dispatch"

// Store abstracts the registry operations the orchestrator needs.
type Store interface {
	GetDataset(id string) (storage.Dataset, error)
	BeginTraining(job storage.TrainingJob, dispatch storage.Job, allowed ...storage.DatasetStatus) error
	GetTrainingJob(id string) (storage.TrainingJob, error)
	GetTrainingJobByHandle(handle string) (storage.TrainingJob, error)
	ActiveTrainingJobs(datasetID string) ([]storage.TrainingJob, error)
	ListTrainingJobsByStatus(status storage.JobStatus) ([]storage.TrainingJob, error)
	MarkJobTraining(id, trainerHandle, logLine string, now time.Time) error
	SetTrainerHandle(id, trainerHandle string, now time.Time) (bool, error)
	RecordProgress(id string, progress float64, logLine string, now time.Time) (bool, error)
	FinishTrainingJob(id string, f storage.Finish) (bool, error)
}

// Outcome tells whether a report changed the registry.
type Outcome int

const (
	Applied Outcome = iota + 1
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Config holds the orchestrator timing settings.
type Config struct {
	// InactivityWindow is how long a job may go without a progress report
	// before the reaper fails it.
	InactivityWindow time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator applies every job state transition. Transitions for one job
// are serialized by a per-job lock; starting a job additionally holds a
// per-dataset lock.
type Orchestrator struct {
	store  Store
	cfg    Config
	clock  Clock
	logger *slog.Logger

	jobLocks     keyLock
	datasetLocks keyLock

	wake chan struct{}
}

// New creates an Orchestrator. A zero InactivityWindow defaults to 30 minutes.
func New(store Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = 30 * time.Minute
	}
	o := &Orchestrator{
		store:  store,
		cfg:    cfg,
		clock:  systemClock{},
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Wake returns a channel that receives a value whenever new work is queued
// for the dispatcher.
func (o *Orchestrator) Wake() <-chan struct{} {
	return o.wake
}

type dispatchPayload struct {
	TrainingJobID string `json:"training_job_id"`
}

// StartTraining creates a queued job for a validated (or previously trained)
// dataset and schedules its dispatch. It returns ErrPreconditionFailed,
// writing nothing, when the dataset is in any other state or already has an
// active job, and storage.ErrNotFound when the dataset does not exist in the
// workspace.
func (o *Orchestrator) StartTraining(ctx context.Context, workspaceID, datasetID string) (storage.TrainingJob, error) {
	unlock := o.datasetLocks.Lock(datasetID)
	defer unlock()

	d, err := o.store.GetDataset(datasetID)
	if err != nil {
		return storage.TrainingJob{}, fmt.Errorf("loading dataset %s: %w", datasetID, err)
	}
	if d.WorkspaceID != workspaceID {
		return storage.TrainingJob{}, fmt.Errorf("loading dataset %s: %w", datasetID, storage.ErrNotFound)
	}
	if d.Status != storage.DatasetValidated {
		return storage.TrainingJob{}, fmt.Errorf("%w: dataset %s is %s, want validated", ErrPreconditionFailed, datasetID, d.Status)
	}

	now := o.clock.Now()
	id := uuid.New().String()
	payload, err := json.Marshal(dispatchPayload{TrainingJobID: id})
	if err != nil {
		return storage.TrainingJob{}, err
	}

	job := storage.TrainingJob{
		ID:          id,
		WorkspaceID: workspaceID,
		DatasetID:   datasetID,
		Handle:      id,
		Log:         fmt.Sprintf("queued for training (%d examples)", d.SampleCount),
		CreatedAt:   now,
	}
	dispatch := storage.Job{
		ID:          uuid.New().String(),
		Type:        DispatchJobType,
		PayloadJSON: string(payload),
		RunAfter:    now,
	}
	err = o.store.BeginTraining(job, dispatch, storage.DatasetValidated)
	if errors.Is(err, storage.ErrConflict) {
		return storage.TrainingJob{}, fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	if err != nil {
		return storage.TrainingJob{}, fmt.Errorf("starting training for dataset %s: %w", datasetID, err)
	}

	o.logger.Info("training job queued", "job_id", id, "dataset_id", datasetID, "workspace_id", workspaceID)
	o.notify()

	return o.store.GetTrainingJob(id)
}

func (o *Orchestrator) notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// MarkAccepted moves a queued job to training after the trainer accepted it.
// handle is the one the trainer returned. When it differs from the requested
// handle it is kept alongside, so callbacks and polls may use either. A job
// that a callback already moved to training still gains the handle.
func (o *Orchestrator) MarkAccepted(ctx context.Context, jobID, handle string) error {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	now := o.clock.Now()
	err := o.store.MarkJobTraining(jobID, handle, "accepted by trainer", now)
	if errors.Is(err, storage.ErrConflict) {
		if handle != "" {
			if ok, serr := o.store.SetTrainerHandle(jobID, handle, now); serr != nil {
				o.logger.Warn("recording trainer handle failed", "job_id", jobID, "handle", handle, "error", serr)
			} else if ok {
				o.logger.Info("trainer handle recorded late", "job_id", jobID, "handle", handle)
			}
		}
		return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	if err != nil {
		return fmt.Errorf("accepting job %s: %w", jobID, err)
	}
	o.logger.Info("training job accepted", "job_id", jobID, "handle", handle)
	return nil
}

// FailDispatch fails a job that could not be handed to the trainer.
func (o *Orchestrator) FailDispatch(ctx context.Context, jobID string, cause error) (Outcome, error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	msg := fmt.Sprintf("dispatch failed: %v", cause)
	return o.finish(jobID, storage.Finish{
		Status:     storage.JobFailed,
		LogLine:    msg,
		ReportLine: "training could not start: " + cause.Error(),
	})
}

// ReportProgress records a progress report for a job in training. A report
// that does not raise progress is Ignored; a job in any other state yields
// ErrPreconditionFailed.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID string, progress float64, logLine string) (Outcome, error) {
	if math.IsNaN(progress) || progress < 0 || progress > 1 {
		return 0, fmt.Errorf("%w: progress %v outside [0,1]", ErrInvalidReport, progress)
	}

	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	applied, err := o.store.RecordProgress(jobID, progress, logLine, o.clock.Now())
	if errors.Is(err, storage.ErrConflict) {
		return 0, fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	if err != nil {
		return 0, fmt.Errorf("recording progress for job %s: %w", jobID, err)
	}
	if !applied {
		return Ignored, nil
	}
	return Applied, nil
}

// ReportTerminal finishes a job. Reports for an already terminal job are
// Ignored, so duplicate deliveries mutate nothing.
func (o *Orchestrator) ReportTerminal(ctx context.Context, jobID string, status storage.JobStatus, modelPath, detail string) (Outcome, error) {
	var f storage.Finish
	switch status {
	case storage.JobCompleted:
		if modelPath == "" {
			return 0, fmt.Errorf("%w: completed without a model reference", ErrInvalidReport)
		}
		f = storage.Finish{Status: status, ModelPath: modelPath, LogLine: "training completed: " + modelPath}
		if detail != "" {
			f.LogLine = detail + "\n" + f.LogLine
		}
	case storage.JobFailed:
		if detail == "" {
			detail = "trainer reported failure without detail"
		}
		f = storage.Finish{Status: status, LogLine: "training failed: " + detail, ReportLine: "training failed: " + detail}
	default:
		return 0, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidReport, status)
	}

	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	return o.finish(jobID, f)
}

// finish applies a terminal transition. Callers hold the job lock.
func (o *Orchestrator) finish(jobID string, f storage.Finish) (Outcome, error) {
	f.Now = o.clock.Now()
	applied, err := o.store.FinishTrainingJob(jobID, f)
	if err != nil {
		return 0, fmt.Errorf("finishing job %s: %w", jobID, err)
	}
	if !applied {
		return Ignored, nil
	}
	o.logger.Info("training job finished", "job_id", jobID, "status", string(f.Status))
	return Applied, nil
}

// Reconcile routes one remote status update, pushed or polled, to the
// matching state transition. Updates for jobs that are already terminal, and
// non-terminal updates that no longer apply, are Ignored.
func (o *Orchestrator) Reconcile(ctx context.Context, u trainer.Update) (Outcome, error) {
	if !u.Status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidReport, u.Status)
	}

	job, err := o.store.GetTrainingJobByHandle(u.Handle)
	if err != nil {
		return 0, fmt.Errorf("resolving job handle %q: %w", u.Handle, err)
	}
	if job.Status.Terminal() {
		return Ignored, nil
	}

	if err := o.checkSingleActive(job); err != nil {
		return 0, err
	}

	switch u.Status {
	case trainer.StatusQueued:
		return Ignored, nil

	case trainer.StatusTraining:
		outcome := Ignored
		if job.Status == storage.JobQueued {
			// The trainer started before the dispatcher recorded acceptance.
			if err := o.MarkAccepted(ctx, job.ID, ""); err != nil && !errors.Is(err, ErrPreconditionFailed) {
				return 0, err
			}
			outcome = Applied
		}
		res, err := o.ReportProgress(ctx, job.ID, u.Progress, u.Log)
		if errors.Is(err, ErrPreconditionFailed) {
			return outcome, nil
		}
		if err != nil {
			return 0, err
		}
		if res == Applied {
			outcome = Applied
		}
		return outcome, nil

	case trainer.StatusCompleted:
		return o.ReportTerminal(ctx, job.ID, storage.JobCompleted, u.ArtifactRef, u.Log)

	default:
		detail := u.Error
		if detail == "" {
			detail = u.Log
		}
		return o.ReportTerminal(ctx, job.ID, storage.JobFailed, "", detail)
	}
}

// checkSingleActive fails job when its dataset has more than one active job.
func (o *Orchestrator) checkSingleActive(job storage.TrainingJob) error {
	active, err := o.store.ActiveTrainingJobs(job.DatasetID)
	if err != nil {
		return fmt.Errorf("checking active jobs for dataset %s: %w", job.DatasetID, err)
	}
	if len(active) <= 1 {
		return nil
	}

	violation := fmt.Errorf("%w: dataset %s has %d active jobs", ErrInvariantViolation, job.DatasetID, len(active))
	o.logger.Error("training invariant violated", "job_id", job.ID, "dataset_id", job.DatasetID, "active_jobs", len(active))

	unlock := o.jobLocks.Lock(job.ID)
	defer unlock()
	if _, err := o.finish(job.ID, storage.Finish{
		Status:     storage.JobFailed,
		LogLine:    violation.Error(),
		ReportLine: "training aborted: " + violation.Error(),
	}); err != nil {
		return errors.Join(violation, err)
	}
	return violation
}

// Reap fails every job that has gone without a progress report for longer
// than the inactivity window: jobs in training that the trainer stopped
// reporting on, and queued jobs that never got dispatched. It returns the
// number of jobs failed.
func (o *Orchestrator) Reap(ctx context.Context) (int, error) {
	reaped := 0
	for _, status := range []storage.JobStatus{storage.JobTraining, storage.JobQueued} {
		jobs, err := o.store.ListTrainingJobsByStatus(status)
		if err != nil {
			return reaped, fmt.Errorf("listing %s jobs: %w", status, err)
		}
		for _, j := range jobs {
			if ctx.Err() != nil {
				return reaped, ctx.Err()
			}
			ok, err := o.reapOne(j.ID)
			if err != nil {
				o.logger.Error("reaping job failed", "job_id", j.ID, "error", err)
				continue
			}
			if ok {
				reaped++
			}
		}
	}
	return reaped, nil
}

func (o *Orchestrator) reapOne(jobID string) (bool, error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	// Re-read under the lock: a report may have landed since the listing.
	j, err := o.store.GetTrainingJob(jobID)
	if err != nil {
		return false, err
	}
	now := o.clock.Now()
	idle := now.Sub(j.LastProgressAt)
	if j.Status.Terminal() || idle <= o.cfg.InactivityWindow {
		return false, nil
	}

	var msg string
	if j.Status == storage.JobQueued {
		msg = fmt.Sprintf("timed out: not dispatched to trainer within %s", o.cfg.InactivityWindow)
	} else {
		msg = fmt.Sprintf("timed out: no progress reported for %s", idle.Truncate(time.Second))
	}
	outcome, err := o.finish(jobID, storage.Finish{
		Status:     storage.JobFailed,
		LogLine:    msg,
		ReportLine: "training " + msg,
	})
	if err != nil {
		return false, err
	}
	if outcome == Applied {
		o.logger.Warn("stale training job reaped", "job_id", jobID, "dataset_id", j.DatasetID, "idle", idle)
	}
	return outcome == Applied, nil
}
