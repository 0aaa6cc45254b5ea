// Package ingest turns uploaded dataset files into registry records: it
// creates the dataset, runs the normalizer and persists the outcome.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/echotrain/internal/normalize"
	"github.com/kalambet/echotrain/internal/storage"
)

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize = 10 << 20

// ErrInvalidUpload is returned for uploads rejected before any record is
// written: a missing filename, an unknown format, empty or oversized content.
var ErrInvalidUpload = errors.New("invalid upload")

// Store abstracts the dataset registry operations used by the service.
type Store interface {
	CreateDataset(d storage.Dataset) error
	GetDataset(id string) (storage.Dataset, error)
	StartParsing(id string, now time.Time) error
	SaveValidation(id string, v storage.Validation, now time.Time) error
}

// Outcome is a persisted dataset together with the normalizer result that
// produced its state.
type Outcome struct {
	Dataset storage.Dataset
	Result  normalize.Result
}

// Service validates uploads and re-validations.
type Service struct {
	store   Store
	maxSize int
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a Service. A maxSize <= 0 defaults to DefaultMaxSize.
func NewService(store Store, maxSize int) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Service{
		store:   store,
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// Upload stores a new dataset and normalizes it. Malformed content is not an
// error: the dataset ends in the error state with the report attached.
func (s *Service) Upload(workspaceID, filename, format string, content []byte) (Outcome, error) {
	filename = strings.TrimSpace(filename)
	switch {
	case strings.TrimSpace(workspaceID) == "":
		return Outcome{}, fmt.Errorf("%w: workspace is required", ErrInvalidUpload)
	case filename == "":
		return Outcome{}, fmt.Errorf("%w: filename is required", ErrInvalidUpload)
	case len(content) == 0:
		return Outcome{}, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	case len(content) > s.maxSize:
		return Outcome{}, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidUpload, len(content), s.maxSize)
	}
	f, ok := normalize.ParseFormat(format)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unsupported format %q: expected one of csv, json, structured-yaml", ErrInvalidUpload, format)
	}

	d := storage.Dataset{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Filename:    filename,
		Format:      string(f),
		Status:      storage.DatasetUploaded,
		Content:     content,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateDataset(d); err != nil {
		return Outcome{}, fmt.Errorf("creating dataset: %w", err)
	}
	s.logger.Info("dataset uploaded", "dataset_id", d.ID, "workspace_id", workspaceID, "format", d.Format, "bytes", len(content))

	return s.validate(d)
}

// Revalidate re-runs the normalizer on a dataset's stored content. It fails
// with storage.ErrConflict while a training job for the dataset is active.
func (s *Service) Revalidate(workspaceID, datasetID string) (Outcome, error) {
	d, err := s.store.GetDataset(datasetID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading dataset %s: %w", datasetID, err)
	}
	if d.WorkspaceID != workspaceID {
		return Outcome{}, fmt.Errorf("loading dataset %s: %w", datasetID, storage.ErrNotFound)
	}
	return s.validate(d)
}

func (s *Service) validate(d storage.Dataset) (Outcome, error) {
	if err := s.store.StartParsing(d.ID, s.now()); err != nil {
		return Outcome{}, fmt.Errorf("starting validation of dataset %s: %w", d.ID, err)
	}

	res := normalize.Normalize(normalize.Format(d.Format), d.Content)

	v := storage.Validation{
		Intents:     res.Intents,
		Entities:    res.Entities,
		SampleCount: res.SampleCount,
		Warnings:    res.Warnings,
	}
	if res.Valid {
		corpus, err := json.Marshal(res.Corpus)
		if err != nil {
			return Outcome{}, fmt.Errorf("encoding corpus: %w", err)
		}
		v.Status = storage.DatasetValidated
		v.CorpusJSON = string(corpus)
	} else {
		v.Status = storage.DatasetError
		v.Report = res.Errors
	}

	if err := s.store.SaveValidation(d.ID, v, s.now()); err != nil {
		return Outcome{}, fmt.Errorf("saving validation of dataset %s: %w", d.ID, err)
	}

	saved, err := s.store.GetDataset(d.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reloading dataset %s: %w", d.ID, err)
	}
	s.logger.Info("dataset validated", "dataset_id", d.ID, "status", string(saved.Status),
		"samples", saved.SampleCount, "warnings", len(res.Warnings), "errors", len(res.Errors))
	return Outcome{Dataset: saved, Result: res}, nil
}
