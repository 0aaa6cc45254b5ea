package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write finds the record in a
// state that does not allow it.
var ErrConflict = errors.New("conflict")

type DatasetStatus string

const (
	DatasetUploaded  DatasetStatus = "uploaded"
	DatasetParsing   DatasetStatus = "parsing"
	DatasetValidated DatasetStatus = "validated"
	DatasetTraining  DatasetStatus = "training"
	DatasetTrained   DatasetStatus = "trained"
	DatasetError     DatasetStatus = "error"
)

type Dataset struct {
	ID               string
	WorkspaceID      string
	Filename         string
	Format           string
	Status           DatasetStatus
	Intents          []string
	Entities         []string
	SampleCount      int
	ValidationReport []string
	Warnings         []string
	CorpusJSON       string // canonical corpus, empty unless validated
	Content          []byte // raw upload, kept for re-validation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validation is the persisted outcome of one normalizer run.
type Validation struct {
	Status      DatasetStatus // DatasetValidated or DatasetError
	Intents     []string
	Entities    []string
	SampleCount int
	Report      []string
	Warnings    []string
	CorpusJSON  string
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobTraining  JobStatus = "training"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type TrainingJob struct {
	ID             string
	WorkspaceID    string
	DatasetID      string
	Handle         string // sent to the trainer, equal to ID
	TrainerHandle  string // assigned by the trainer when it does not reuse Handle
	Status         JobStatus
	Progress       float64
	Log            string // newline-separated, append-only
	ModelPath      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastProgressAt time.Time
	FinishedAt     time.Time // zero unless terminal
}

// RemoteHandle is the handle the trainer knows the job by.
func (j TrainingJob) RemoteHandle() string {
	if j.TrainerHandle != "" {
		return j.TrainerHandle
	}
	return j.Handle
}

// Job is a durable outbox entry processed by a background worker.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Annotation is one hand-labelled example saved from an annotation tool.
type Annotation struct {
	ID          string
	WorkspaceID string
	Text        string
	Intent      string
	Entities    []AnnotatedEntity
	CreatedAt   time.Time
}

// AnnotatedEntity is an entity span in Annotation.Text; offsets are bytes.
type AnnotatedEntity struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}
