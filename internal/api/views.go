package api

import (
	"path"
	"strings"
	"time"

	"github.com/kalambet/echotrain/internal/normalize"
	"github.com/kalambet/echotrain/internal/storage"
)

// DatasetView is the wire form of a dataset. Raw content and the corpus are
// served separately.
type DatasetView struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	Filename         string    `json:"filename"`
	Format           string    `json:"format"`
	Status           string    `json:"status"`
	Intents          []string  `json:"intents"`
	Entities         []string  `json:"entities"`
	SampleCount      int       `json:"sample_count"`
	ValidationReport []string  `json:"validation_report,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewDatasetView converts a registry record.
func NewDatasetView(d storage.Dataset) DatasetView {
	return DatasetView{
		ID:               d.ID,
		WorkspaceID:      d.WorkspaceID,
		Filename:         d.Filename,
		Format:           d.Format,
		Status:           string(d.Status),
		Intents:          nonNil(d.Intents),
		Entities:         nonNil(d.Entities),
		SampleCount:      d.SampleCount,
		ValidationReport: d.ValidationReport,
		Warnings:         d.Warnings,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// UploadView is the response to an upload or re-validation.
type UploadView struct {
	Dataset DatasetView      `json:"dataset"`
	Result  normalize.Result `json:"result"`
}

// JobView is the wire form of a training job.
type JobView struct {
	ID            string     `json:"id"`
	WorkspaceID   string     `json:"workspace_id"`
	DatasetID     string     `json:"dataset_id"`
	Handle        string     `json:"handle"`
	TrainerHandle string     `json:"trainer_handle,omitempty"`
	Status        string     `json:"status"`
	Progress      float64    `json:"progress"`
	Log           string     `json:"log"`
	ModelPath     string     `json:"model_path,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// NewJobView converts a registry record.
func NewJobView(j storage.TrainingJob) JobView {
	v := JobView{
		ID:            j.ID,
		WorkspaceID:   j.WorkspaceID,
		DatasetID:     j.DatasetID,
		Handle:        j.Handle,
		TrainerHandle: j.TrainerHandle,
		Status:        string(j.Status),
		Progress:      j.Progress,
		Log:           j.Log,
		ModelPath:     j.ModelPath,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		v.FinishedAt = &t
	}
	return v
}

// ModelView describes the latest trained model of a workspace and the
// dataset it was trained on.
type ModelView struct {
	ModelName   string    `json:"model_name"`
	ModelPath   string    `json:"model_path"`
	JobID       string    `json:"job_id"`
	DatasetID   string    `json:"dataset_id"`
	Intents     []string  `json:"intents"`
	Entities    []string  `json:"entities"`
	SampleCount int       `json:"sample_count"`
	FinishedAt  time.Time `json:"finished_at"`
}

func NewModelView(j storage.TrainingJob, d storage.Dataset) ModelView {
	return ModelView{
		ModelName:   modelName(j.ModelPath),
		ModelPath:   j.ModelPath,
		JobID:       j.ID,
		DatasetID:   j.DatasetID,
		Intents:     nonNil(d.Intents),
		Entities:    nonNil(d.Entities),
		SampleCount: d.SampleCount,
		FinishedAt:  j.FinishedAt,
	}
}

// modelName is the artifact's base name without archive extensions.
func modelName(modelPath string) string {
	name := path.Base(strings.ReplaceAll(modelPath, "\\", "/"))
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
