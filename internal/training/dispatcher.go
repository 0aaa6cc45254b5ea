package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
)

// OutboxStore abstracts the outbox and registry reads used by the dispatcher.
type OutboxStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	ReleaseJob(id string) error
	RequeueRunningJobs(types []string) (int, error)
	GetTrainingJob(id string) (storage.TrainingJob, error)
	GetDataset(id string) (storage.Dataset, error)
}

// Submitter hands a corpus to the remote trainer.
type Submitter interface {
	Submit(ctx context.Context, req trainer.SubmitRequest) (string, error)
}

// DispatcherConfig tunes dispatch retries.
type DispatcherConfig struct {
	// PollInterval is how often the outbox is checked when not woken.
	PollInterval time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero
	// means the default of 3; a negative value disables retries.
	MaxRetries int
	// InitialBackoff is the first retry delay; later delays grow exponentially.
	InitialBackoff time.Duration
	// AttemptTimeout bounds a single Submit call.
	AttemptTimeout time.Duration
	// CallbackURL is sent to the trainer for push status updates.
	CallbackURL string
}

// Dispatcher processes training_dispatch jobs from the outbox.
type Dispatcher struct {
	orch   *Orchestrator
	store  OutboxStore
	sub    Submitter
	cfg    DispatcherConfig
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. Zero config values get defaults: poll
// every second, 3 retries starting at 500ms, 30s per attempt.
func NewDispatcher(orch *Orchestrator, store OutboxStore, sub Submitter, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		orch:   orch,
		store:  store,
		sub:    sub,
		cfg:    cfg,
		logger: orch.logger,
	}
}

// Run dispatches jobs until ctx is cancelled. Jobs left running by a
// previous process are requeued first.
func (d *Dispatcher) Run(ctx context.Context) {
	if n, err := d.store.RequeueRunningJobs([]string{DispatchJobType}); err != nil {
		d.logger.Error("requeueing interrupted dispatches", "error", err)
	} else if n > 0 {
		d.logger.Info("requeued interrupted dispatches", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := d.RunOnce(ctx)
		if err != nil {
			d.logger.Error("dispatcher iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-d.orch.Wake():
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes a single dispatch job.
// Returns true if a job was processed (regardless of success/failure).
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	job, err := d.store.ClaimNextJob([]string{DispatchJobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := d.processJob(ctx, job); err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the job for the next process.
			if relErr := d.store.ReleaseJob(job.ID); relErr != nil {
				d.logger.Error("failed to release job", "job_id", job.ID, "error", relErr)
			}
			return true, nil
		}
		d.logger.Warn("dispatch job failed", "job_id", job.ID, "error", err)
		if failErr := d.store.FailJob(job.ID, err.Error()); failErr != nil {
			d.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := d.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob returns an error only for problems worth retrying through the
// outbox; trainer failures are recorded on the training job instead.
func (d *Dispatcher) processJob(ctx context.Context, job *storage.Job) error {
	var payload dispatchPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	tj, err := d.store.GetTrainingJob(payload.TrainingJobID)
	if errors.Is(err, storage.ErrNotFound) {
		d.logger.Warn("dispatch for unknown training job dropped", "training_job_id", payload.TrainingJobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading training job %s: %w", payload.TrainingJobID, err)
	}
	if tj.Status != storage.JobQueued {
		d.logger.Info("training job no longer queued, skipping dispatch", "job_id", tj.ID, "status", string(tj.Status))
		return nil
	}

	ds, err := d.store.GetDataset(tj.DatasetID)
	if err != nil {
		return fmt.Errorf("loading dataset %s: %w", tj.DatasetID, err)
	}
	if ds.CorpusJSON == "" {
		_, err := d.orch.FailDispatch(ctx, tj.ID, errors.New("dataset has no normalized corpus"))
		return err
	}

	handle, err := d.submit(ctx, trainer.SubmitRequest{
		JobHandle:   tj.Handle,
		DatasetID:   tj.DatasetID,
		WorkspaceID: tj.WorkspaceID,
		CallbackURL: d.cfg.CallbackURL,
		Corpus:      json.RawMessage(ds.CorpusJSON),
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		if _, ferr := d.orch.FailDispatch(ctx, tj.ID, err); ferr != nil {
			return ferr
		}
		return nil
	}

	err = d.orch.MarkAccepted(ctx, tj.ID, handle)
	if errors.Is(err, ErrPreconditionFailed) {
		// A callback or the reaper got there first.
		d.logger.Info("accepted job already moved on", "job_id", tj.ID, "error", err)
		return nil
	}
	return err
}

// submit calls the trainer with bounded exponential backoff. A rejection is
// not retried. Transport failures are wrapped in ErrTransport.
func (d *Dispatcher) submit(ctx context.Context, req trainer.SubmitRequest) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxRetries)), ctx)

	attempts := 0
	var handle string
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		h, err := d.sub.Submit(actx, req)
		if err != nil {
			if trainer.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		handle = h
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("trainer submit failed, retrying", "job_handle", req.JobHandle, "attempt", attempts, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if trainer.IsPermanent(err) {
			return "", fmt.Errorf("trainer rejected job: %w", err)
		}
		return "", fmt.Errorf("%w: trainer unreachable after %d attempts: %v", ErrTransport, attempts, err)
	}
	return handle, nil
}
