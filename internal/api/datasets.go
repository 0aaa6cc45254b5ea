package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/normalize"
	"github.com/kalambet/echotrain/internal/storage"
)

type UploadRequest struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	// Content is the file body, base64-encoded.
	Content string `json:"content"`
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if !decodeBody(w, r, maxUploadBodySize, &req) {
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content must be base64: %v", err)
			return
		}

		out, err := deps.Ingest.Upload(chi.URLParam(r, "ws"), req.Filename, req.Format, content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, uploadView(out))
	}
}

func handleListDatasets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListDatasets(chi.URLParam(r, "ws"))
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]DatasetView, 0, len(list))
		for _, d := range list {
			views = append(views, NewDatasetView(d))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetDataset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := workspaceDataset(deps.Store, chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewDatasetView(d))
	}
}

func handleRevalidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Ingest.Revalidate(chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, uploadView(out))
	}
}

// handleCorpus serves the normalized corpus as JSON, or as structured YAML
// with ?format=yaml.
// DroppedEntitiesHeader counts the entity spans a YAML export could not
// annotate inline.
const DroppedEntitiesHeader = "X-Echotrain-Dropped-Entities"

func handleCorpus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := workspaceDataset(deps.Store, chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if d.CorpusJSON == "" {
			httpError(w, http.StatusConflict, "precondition_failed", "dataset %s has no normalized corpus (status %s)", d.ID, d.Status)
			return
		}

		switch r.URL.Query().Get("format") {
		case "", "json":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(d.CorpusJSON))
		case "yaml", "yml":
			var c normalize.Corpus
			if err := json.Unmarshal([]byte(d.CorpusJSON), &c); err != nil {
				writeError(w, fmt.Errorf("decoding corpus of dataset %s: %w", d.ID, err))
				return
			}
			out, err := normalize.ExportYAML(c)
			if err != nil {
				writeError(w, fmt.Errorf("exporting corpus of dataset %s: %w", d.ID, err))
				return
			}
			if dropped := normalize.UnexportableEntities(c); len(dropped) > 0 {
				w.Header().Set(DroppedEntitiesHeader, strconv.Itoa(len(dropped)))
			}
			w.Header().Set("Content-Type", "application/yaml")
			w.WriteHeader(http.StatusOK)
			w.Write(out)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "format must be json or yaml")
		}
	}
}

// workspaceDataset loads a dataset and hides it from other workspaces.
func workspaceDataset(store *storage.Store, ws, id string) (storage.Dataset, error) {
	d, err := store.GetDataset(id)
	if err != nil {
		return storage.Dataset{}, fmt.Errorf("dataset %s: %w", id, err)
	}
	if d.WorkspaceID != ws {
		return storage.Dataset{}, fmt.Errorf("dataset %s: %w", id, storage.ErrNotFound)
	}
	return d, nil
}

func uploadView(out ingest.Outcome) UploadView {
	return UploadView{Dataset: NewDatasetView(out.Dataset), Result: out.Result}
}
