package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const datasetColumns = `id, workspace_id, filename, format, status, intents, entities, sample_count,
	validation_report, warnings, corpus_json, content, created_at, updated_at`

// CreateDataset inserts a new dataset record.
func (s *Store) CreateDataset(d Dataset) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Status == "" {
		d.Status = DatasetUploaded
	}
	_, err := s.db.Exec(`
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, d.Filename, d.Format, string(d.Status),
		encodeList(d.Intents), encodeList(d.Entities), d.SampleCount,
		encodeList(d.ValidationReport), encodeList(d.Warnings), d.CorpusJSON, d.Content,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

// GetDataset returns the dataset with the given id.
func (s *Store) GetDataset(id string) (Dataset, error) {
	d, err := scanDataset(s.db.QueryRow(`SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Dataset{}, ErrNotFound
	}
	return d, err
}

// ListDatasets returns a workspace's datasets, newest first.
func (s *Store) ListDatasets(workspaceID string) ([]Dataset, error) {
	rows, err := s.db.Query(`SELECT `+datasetColumns+` FROM datasets
		WHERE workspace_id = ? ORDER BY created_at DESC, id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// StartParsing moves a dataset into the parsing state. It fails with
// ErrConflict while a training job for the dataset is queued or running.
func (s *Store) StartParsing(id string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning parse transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM datasets WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if DatasetStatus(status) == DatasetTraining {
		return fmt.Errorf("dataset %s is %s: %w", id, status, ErrConflict)
	}

	active, err := countActiveJobs(tx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("dataset %s has an active training job: %w", id, ErrConflict)
	}

	if _, err := tx.Exec(`UPDATE datasets SET status = ?, updated_at = ? WHERE id = ?`,
		string(DatasetParsing), formatTime(now), id); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveValidation records a normalizer outcome on a dataset in the parsing
// state. The dataset invariants are checked before writing: a validated
// dataset has samples and no report, an errored one has a report.
func (s *Store) SaveValidation(id string, v Validation, now time.Time) error {
	switch v.Status {
	case DatasetValidated:
		if v.SampleCount <= 0 || len(v.Report) > 0 {
			return fmt.Errorf("validated dataset needs samples and an empty report")
		}
	case DatasetError:
		if len(v.Report) == 0 {
			return fmt.Errorf("errored dataset needs a validation report")
		}
	default:
		return fmt.Errorf("invalid validation status %q", v.Status)
	}

	res, err := s.db.Exec(`
		UPDATE datasets SET status = ?, intents = ?, entities = ?, sample_count = ?,
			validation_report = ?, warnings = ?, corpus_json = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(v.Status), encodeList(v.Intents), encodeList(v.Entities), v.SampleCount,
		encodeList(v.Report), encodeList(v.Warnings), v.CorpusJSON, formatTime(now),
		id, string(DatasetParsing),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetDataset(id); err != nil {
			return err
		}
		return fmt.Errorf("dataset %s is not parsing: %w", id, ErrConflict)
	}
	return nil
}

func scanDataset(row rowScanner) (Dataset, error) {
	var (
		d                                        Dataset
		status, intents, entities, report, warns string
		createdAt, updatedAt                     string
	)
	if err := row.Scan(&d.ID, &d.WorkspaceID, &d.Filename, &d.Format, &status,
		&intents, &entities, &d.SampleCount, &report, &warns, &d.CorpusJSON, &d.Content,
		&createdAt, &updatedAt); err != nil {
		return Dataset{}, err
	}
	d.Status = DatasetStatus(status)

	var err error
	if d.Intents, err = decodeList(intents); err != nil {
		return Dataset{}, fmt.Errorf("decoding intents for dataset %s: %w", d.ID, err)
	}
	if d.Entities, err = decodeList(entities); err != nil {
		return Dataset{}, fmt.Errorf("decoding entities for dataset %s: %w", d.ID, err)
	}
	if d.ValidationReport, err = decodeList(report); err != nil {
		return Dataset{}, fmt.Errorf("decoding validation report for dataset %s: %w", d.ID, err)
	}
	if d.Warnings, err = decodeList(warns); err != nil {
		return Dataset{}, fmt.Errorf("decoding warnings for dataset %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Dataset{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Dataset{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}
