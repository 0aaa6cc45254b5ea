package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const trainingJobColumns = `id, workspace_id, dataset_id, handle, trainer_handle, status, progress, log,
	model_path, created_at, updated_at, last_progress_at, finished_at`

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

// BeginTraining atomically creates a queued training job, moves its dataset
// into the training state and enqueues the dispatch outbox entry. It fails
// with ErrConflict, writing nothing, when the dataset status is not one of
// allowed or another job for the dataset is already queued or training.
func (s *Store) BeginTraining(job TrainingJob, dispatch Job, allowed ...DatasetStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning training transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM datasets WHERE id = ?`, job.DatasetID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	ok := false
	for _, a := range allowed {
		if DatasetStatus(status) == a {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("dataset %s is %s: %w", job.DatasetID, status, ErrConflict)
	}

	active, err := countActiveJobs(tx, job.DatasetID)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("dataset %s already has an active training job: %w", job.DatasetID, ErrConflict)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	now := formatTime(job.CreatedAt)
	_, err = tx.Exec(`
		INSERT INTO training_jobs (`+trainingJobColumns+`)
		VALUES (?, ?, ?, ?, ?, 0, ?, '', ?, ?, ?, NULL)`,
		job.ID, job.WorkspaceID, job.DatasetID, job.Handle, string(JobQueued), job.Log,
		now, now, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("dataset %s already has an active training job: %w", job.DatasetID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting training job: %w", err)
	}

	if _, err := tx.Exec(`UPDATE datasets SET status = ?, updated_at = ? WHERE id = ?`,
		string(DatasetTraining), now, job.DatasetID); err != nil {
		return fmt.Errorf("updating dataset status: %w", err)
	}

	if err := enqueueJob(tx, dispatch, job.CreatedAt); err != nil {
		return fmt.Errorf("enqueueing dispatch: %w", err)
	}

	return tx.Commit()
}

// GetTrainingJob returns the training job with the given id.
func (s *Store) GetTrainingJob(id string) (TrainingJob, error) {
	j, err := scanTrainingJob(s.db.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return TrainingJob{}, ErrNotFound
	}
	return j, err
}

// GetTrainingJobByHandle resolves a job handle received from the remote
// trainer. Both the handle sent at submission and the one the trainer
// assigned resolve to the job.
func (s *Store) GetTrainingJobByHandle(handle string) (TrainingJob, error) {
	j, err := scanTrainingJob(s.db.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs
		WHERE handle = ? OR trainer_handle = ?
		ORDER BY handle = ? DESC LIMIT 1`, handle, handle, handle))
	if err == sql.ErrNoRows {
		return TrainingJob{}, ErrNotFound
	}
	return j, err
}

// ListTrainingJobs returns a dataset's training jobs, newest first.
func (s *Store) ListTrainingJobs(datasetID string) ([]TrainingJob, error) {
	return s.queryTrainingJobs(`SELECT `+trainingJobColumns+` FROM training_jobs
		WHERE dataset_id = ? ORDER BY created_at DESC, id ASC`, datasetID)
}

// ListTrainingJobsByStatus returns all jobs in the given status, least
// recently updated first.
func (s *Store) ListTrainingJobsByStatus(status JobStatus) ([]TrainingJob, error) {
	return s.queryTrainingJobs(`SELECT `+trainingJobColumns+` FROM training_jobs
		WHERE status = ? ORDER BY last_progress_at ASC, id ASC`, string(status))
}

// ActiveTrainingJobs returns the dataset's jobs that are queued or training.
func (s *Store) ActiveTrainingJobs(datasetID string) ([]TrainingJob, error) {
	return s.queryTrainingJobs(`SELECT `+trainingJobColumns+` FROM training_jobs
		WHERE dataset_id = ? AND status IN ('queued', 'training') ORDER BY created_at ASC`, datasetID)
}

// LatestCompletedJob returns the most recently finished completed job in a workspace.
func (s *Store) LatestCompletedJob(workspaceID string) (TrainingJob, error) {
	j, err := scanTrainingJob(s.db.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs
		WHERE workspace_id = ? AND status = 'completed'
		ORDER BY finished_at DESC, id ASC LIMIT 1`, workspaceID))
	if err == sql.ErrNoRows {
		return TrainingJob{}, ErrNotFound
	}
	return j, err
}

// MarkJobTraining moves a queued job to training once the remote trainer has
// accepted it. trainerHandle is recorded when the trainer assigned a handle
// of its own. It returns ErrConflict if the job is no longer queued.
func (s *Store) MarkJobTraining(id, trainerHandle, logLine string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning accept transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanTrainingJob(tx.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if j.Status != JobQueued {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, ErrConflict)
	}
	if trainerHandle == j.Handle {
		trainerHandle = ""
	}
	if trainerHandle == "" {
		trainerHandle = j.TrainerHandle
	}

	ts := formatTime(now)
	_, err = tx.Exec(`UPDATE training_jobs
		SET status = ?, trainer_handle = ?, log = ?, updated_at = ?, last_progress_at = ?
		WHERE id = ?`,
		string(JobTraining), trainerHandle, appendLog(j.Log, logLine), ts, ts, id)
	if isUniqueViolation(err) {
		return fmt.Errorf("job handle %q already in use: %w", trainerHandle, ErrConflict)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SetTrainerHandle records the trainer-assigned handle of a job that left
// the queue before its acceptance was recorded. A job that already has one,
// or has finished, is left alone and false is returned.
func (s *Store) SetTrainerHandle(id, trainerHandle string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE training_jobs SET trainer_handle = ?, updated_at = ?
		WHERE id = ? AND trainer_handle = '' AND handle != ? AND status IN ('queued', 'training')`,
		trainerHandle, formatTime(now), id, trainerHandle)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("job handle %q already in use: %w", trainerHandle, ErrConflict)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordProgress applies a progress report to a job in training. Reports that
// do not increase progress are not applied and yield false.
func (s *Store) RecordProgress(id string, progress float64, logLine string, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning progress transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanTrainingJob(tx.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if j.Status != JobTraining {
		return false, fmt.Errorf("job %s is %s: %w", id, j.Status, ErrConflict)
	}
	if progress <= j.Progress {
		return false, nil
	}

	ts := formatTime(now)
	if _, err := tx.Exec(`UPDATE training_jobs
		SET progress = ?, log = ?, updated_at = ?, last_progress_at = ?
		WHERE id = ?`,
		progress, appendLog(j.Log, logLine), ts, ts, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Finish describes a terminal transition of a training job.
type Finish struct {
	Status     JobStatus // JobCompleted or JobFailed
	ModelPath  string    // required for JobCompleted
	LogLine    string
	ReportLine string // appended to the dataset's validation report on failure
	Now        time.Time
}

// FinishTrainingJob moves a non-terminal job to a terminal status and updates
// its dataset in the same transaction. An already-terminal job is left
// untouched and false is returned.
func (s *Store) FinishTrainingJob(id string, f Finish) (bool, error) {
	switch f.Status {
	case JobCompleted:
		if f.ModelPath == "" {
			return false, fmt.Errorf("completed job needs a model path")
		}
	case JobFailed:
		if f.LogLine == "" {
			return false, fmt.Errorf("failed job needs a log line")
		}
	default:
		return false, fmt.Errorf("invalid terminal status %q", f.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning finish transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanTrainingJob(tx.QueryRow(`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if j.Status.Terminal() {
		return false, nil
	}

	ts := formatTime(f.Now)
	progress := j.Progress
	modelPath := ""
	if f.Status == JobCompleted {
		progress = 1
		modelPath = f.ModelPath
	}
	if _, err := tx.Exec(`UPDATE training_jobs
		SET status = ?, progress = ?, log = ?, model_path = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`,
		string(f.Status), progress, appendLog(j.Log, f.LogLine), modelPath, ts, ts, id); err != nil {
		return false, fmt.Errorf("updating training job: %w", err)
	}

	if f.Status == JobCompleted {
		_, err = tx.Exec(`UPDATE datasets SET status = ?, updated_at = ? WHERE id = ?`,
			string(DatasetTrained), ts, j.DatasetID)
	} else {
		var raw string
		if err := tx.QueryRow(`SELECT validation_report FROM datasets WHERE id = ?`, j.DatasetID).Scan(&raw); err != nil {
			return false, fmt.Errorf("reading dataset report: %w", err)
		}
		report, derr := decodeList(raw)
		if derr != nil {
			return false, fmt.Errorf("decoding dataset report: %w", derr)
		}
		line := f.ReportLine
		if line == "" {
			line = f.LogLine
		}
		report = append(report, line)
		_, err = tx.Exec(`UPDATE datasets SET status = ?, validation_report = ?, updated_at = ? WHERE id = ?`,
			string(DatasetError), encodeList(report), ts, j.DatasetID)
	}
	if err != nil {
		return false, fmt.Errorf("updating dataset status: %w", err)
	}

	return true, tx.Commit()
}

func (s *Store) queryTrainingJobs(query string, args ...any) ([]TrainingJob, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TrainingJob
	for rows.Next() {
		j, err := scanTrainingJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}

func countActiveJobs(q querier, datasetID string) (int, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM training_jobs
		WHERE dataset_id = ? AND status IN ('queued', 'training')`, datasetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return n, nil
}

func appendLog(log, line string) string {
	line = strings.TrimRight(line, "\n")
	switch {
	case line == "":
		return log
	case log == "":
		return line
	}
	return log + "\n" + line
}

func scanTrainingJob(row rowScanner) (TrainingJob, error) {
	var (
		j                                    TrainingJob
		status                               string
		createdAt, updatedAt, lastProgressAt string
		finishedAt                           sql.NullString
	)
	if err := row.Scan(&j.ID, &j.WorkspaceID, &j.DatasetID, &j.Handle, &j.TrainerHandle, &status, &j.Progress,
		&j.Log, &j.ModelPath, &createdAt, &updatedAt, &lastProgressAt, &finishedAt); err != nil {
		return TrainingJob{}, err
	}
	j.Status = JobStatus(status)

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return TrainingJob{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return TrainingJob{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	if j.LastProgressAt, err = parseTime(lastProgressAt); err != nil {
		return TrainingJob{}, fmt.Errorf("parsing last_progress_at for job %s: %w", j.ID, err)
	}
	if finishedAt.Valid {
		if j.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return TrainingJob{}, fmt.Errorf("parsing finished_at for job %s: %w", j.ID, err)
		}
	}
	return j, nil
}
