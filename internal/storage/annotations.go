package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// SaveAnnotation appends an annotation to its workspace.
func (s *Store) SaveAnnotation(a Annotation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	entities := a.Entities
	if entities == nil {
		entities = []AnnotatedEntity{}
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("encoding entities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO annotations (id, workspace_id, text, intent, entities, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Text, a.Intent, string(raw), formatTime(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("annotation %s: %w", a.ID, ErrConflict)
	}
	return err
}

// ListAnnotations returns a workspace's annotations in the order they were saved.
func (s *Store) ListAnnotations(workspaceID string) ([]Annotation, error) {
	rows, err := s.db.Query(`SELECT id, workspace_id, text, intent, entities, created_at
		FROM annotations WHERE workspace_id = ? ORDER BY created_at ASC, rowid ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Annotation{}
	for rows.Next() {
		var (
			a        Annotation
			entities string
			created  string
		)
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.Text, &a.Intent, &entities, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entities), &a.Entities); err != nil {
			return nil, fmt.Errorf("decoding entities of annotation %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
