package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/echotrain/internal/normalize"
	"github.com/kalambet/echotrain/internal/storage"
)

// ErrInvalidAnnotation is returned for annotations whose text, intent or
// entity spans do not line up.
var ErrInvalidAnnotation = errors.New("invalid annotation")

// AnnotationStore persists annotations per workspace.
type AnnotationStore interface {
	SaveAnnotation(a storage.Annotation) error
	ListAnnotations(workspaceID string) ([]storage.Annotation, error)
}

// Annotator validates and stores hand-labelled examples. Entity offsets are
// byte offsets into the text, as returned by normalize.Tokenize, and every
// span must start and end on a token boundary.
type Annotator struct {
	store  AnnotationStore
	now    func() time.Time
	logger *slog.Logger
}

func NewAnnotator(store AnnotationStore) *Annotator {
	return &Annotator{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
}

// Save checks an annotation against the tokenization of its text and
// appends it to the workspace. A missing entity value is filled in from the
// span.
func (a *Annotator) Save(workspaceID, text, intent string, entities []storage.AnnotatedEntity) (storage.Annotation, error) {
	intent = strings.TrimSpace(intent)
	switch {
	case strings.TrimSpace(text) == "":
		return storage.Annotation{}, fmt.Errorf("%w: text is empty", ErrInvalidAnnotation)
	case intent == "":
		return storage.Annotation{}, fmt.Errorf("%w: intent is empty", ErrInvalidAnnotation)
	}

	spans, err := checkSpans(text, entities)
	if err != nil {
		return storage.Annotation{}, err
	}

	ann := storage.Annotation{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Text:        text,
		Intent:      intent,
		Entities:    spans,
		CreatedAt:   a.now(),
	}
	if err := a.store.SaveAnnotation(ann); err != nil {
		return storage.Annotation{}, fmt.Errorf("saving annotation: %w", err)
	}
	a.logger.Info("annotation saved", "workspace_id", workspaceID, "intent", intent, "entities", len(spans))
	return ann, nil
}

// List returns the workspace's annotations, oldest first.
func (a *Annotator) List(workspaceID string) ([]storage.Annotation, error) {
	return a.store.ListAnnotations(workspaceID)
}

func checkSpans(text string, entities []storage.AnnotatedEntity) ([]storage.AnnotatedEntity, error) {
	starts := make(map[int]bool)
	ends := make(map[int]bool)
	for _, tok := range normalize.Tokenize(text) {
		starts[tok.Start] = true
		ends[tok.End] = true
	}

	spans := make([]storage.AnnotatedEntity, 0, len(entities))
	for i, e := range entities {
		e.Entity = strings.TrimSpace(e.Entity)
		if e.Entity == "" {
			return nil, fmt.Errorf("%w: entity %d has no name", ErrInvalidAnnotation, i)
		}
		if e.Start < 0 || e.End <= e.Start || e.End > len(text) {
			return nil, fmt.Errorf("%w: entity %q span [%d,%d) is outside the text", ErrInvalidAnnotation, e.Entity, e.Start, e.End)
		}
		if !starts[e.Start] || !ends[e.End] {
			return nil, fmt.Errorf("%w: entity %q span [%d,%d) does not fall on token boundaries", ErrInvalidAnnotation, e.Entity, e.Start, e.End)
		}
		surface := text[e.Start:e.End]
		if e.Value == "" {
			e.Value = surface
		} else if e.Value != surface {
			return nil, fmt.Errorf("%w: entity %q value %q does not match the text %q at [%d,%d)", ErrInvalidAnnotation, e.Entity, e.Value, surface, e.Start, e.End)
		}
		spans = append(spans, e)
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].End {
			return nil, fmt.Errorf("%w: entities %q and %q overlap", ErrInvalidAnnotation, spans[i-1].Entity, spans[i].Entity)
		}
	}
	return spans, nil
}
