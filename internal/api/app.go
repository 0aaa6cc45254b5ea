package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/echotrain/internal/chat"
	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/training"
)

// maxUploadBodySize covers a base64-encoded dataset at the ingest size limit.
const maxUploadBodySize = 16 << 20 // 16MB

type AppDeps struct {
	Store        *storage.Store
	Ingest       *ingest.Service
	Orchestrator *training.Orchestrator
	Chat         *chat.Service
	Engine       *intent.Engine
	Token        string
	// CallbackToken authenticates the trainer's status callbacks. Empty
	// falls back to Token.
	CallbackToken string
	Logger        *slog.Logger
	// Annotations defaults to an annotator over Store.
	Annotations *ingest.Annotator
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Annotations == nil {
		deps.Annotations = ingest.NewAnnotator(deps.Store)
	}
	callbackToken := deps.CallbackToken
	if callbackToken == "" {
		callbackToken = deps.Token
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.With(BearerAuth(callbackToken)).Post("/trainer/callback", handleCallback(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/tokenize", handleTokenize)

		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Post("/datasets", handleUpload(deps))
			r.Get("/datasets", handleListDatasets(deps))
			r.Get("/datasets/{id}", handleGetDataset(deps))
			r.Post("/datasets/{id}/revalidate", handleRevalidate(deps))
			r.Get("/datasets/{id}/corpus", handleCorpus(deps))
			r.Post("/datasets/{id}/train", handleStartTraining(deps))
			r.Get("/datasets/{id}/jobs", handleListJobs(deps))
			r.Get("/jobs/{id}", handleGetJob(deps))
			r.Get("/model", handleModel(deps))
			r.Post("/chat", handleChat(deps))
			r.Post("/annotations", handleSaveAnnotation(deps))
			r.Get("/annotations", handleListAnnotations(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
