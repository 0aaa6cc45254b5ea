package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
)

func handleStartTraining(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Orchestrator.StartTraining(r.Context(), chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewJobView(job))
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := workspaceDataset(deps.Store, chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		jobs, err := deps.Store.ListTrainingJobs(d.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]JobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, NewJobView(j))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetTrainingJob(id)
		if err == nil && job.WorkspaceID != chi.URLParam(r, "ws") {
			err = storage.ErrNotFound
		}
		if err != nil {
			writeError(w, fmt.Errorf("training job %s: %w", id, err))
			return
		}
		writeJSON(w, http.StatusOK, NewJobView(job))
	}
}

// handleModel reports the model produced by the workspace's most recent
// completed job.
func handleModel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "ws")
		job, err := deps.Store.LatestCompletedJob(ws)
		if err != nil {
			writeError(w, fmt.Errorf("no trained model in workspace %s: %w", ws, err))
			return
		}
		d, err := deps.Store.GetDataset(job.DatasetID)
		if err != nil {
			writeError(w, fmt.Errorf("loading dataset %s of model %s: %w", job.DatasetID, job.ModelPath, err))
			return
		}
		writeJSON(w, http.StatusOK, NewModelView(job, d))
	}
}

// handleCallback receives status pushes from the trainer.
func handleCallback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u trainer.Update
		if !decodeBody(w, r, maxRequestBodySize, &u) {
			return
		}
		if u.Handle == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job_handle is required")
			return
		}

		outcome, err := deps.Orchestrator.Reconcile(r.Context(), u)
		if err != nil {
			deps.Logger.Warn("trainer callback rejected", "job_handle", u.Handle, "status", string(u.Status), "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"result": outcome.String()})
	}
}
