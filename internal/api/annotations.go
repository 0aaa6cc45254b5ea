package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/echotrain/internal/storage"
)

// AnnotationRequest saves one hand-labelled example. Entity offsets are the
// byte offsets returned by POST /tokenize.
type AnnotationRequest struct {
	Text     string                    `json:"text"`
	Intent   string                    `json:"intent"`
	Entities []storage.AnnotatedEntity `json:"entities"`
}

// AnnotationView is the wire form of an annotation. Its text, intent and
// entities fields match the json dataset format, so a list of annotations
// can be uploaded as a dataset as-is.
type AnnotationView struct {
	ID        string                    `json:"id"`
	Text      string                    `json:"text"`
	Intent    string                    `json:"intent"`
	Entities  []storage.AnnotatedEntity `json:"entities"`
	CreatedAt time.Time                 `json:"created_at"`
}

func NewAnnotationView(a storage.Annotation) AnnotationView {
	entities := a.Entities
	if entities == nil {
		entities = []storage.AnnotatedEntity{}
	}
	return AnnotationView{
		ID:        a.ID,
		Text:      a.Text,
		Intent:    a.Intent,
		Entities:  entities,
		CreatedAt: a.CreatedAt,
	}
}

func handleSaveAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnnotationRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		ann, err := deps.Annotations.Save(chi.URLParam(r, "ws"), req.Text, req.Intent, req.Entities)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewAnnotationView(ann))
	}
}

func handleListAnnotations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Annotations.List(chi.URLParam(r, "ws"))
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]AnnotationView, 0, len(list))
		for _, a := range list {
			views = append(views, NewAnnotationView(a))
		}
		writeJSON(w, http.StatusOK, views)
	}
}
