package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/echotrain/internal/normalize"
)

type ChatRequest struct {
	Message string `json:"message"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		resp, err := deps.Chat.Reply(r.Context(), chi.URLParam(r, "ws"), req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type TokenizeRequest struct {
	Text string `json:"text"`
}

type TokenizeResponse struct {
	Tokens []normalize.Token `json:"tokens"`
}

func handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req TokenizeRequest
	if !decodeBody(w, r, maxRequestBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return
	}
	tokens := normalize.Tokenize(req.Text)
	if tokens == nil {
		tokens = []normalize.Token{}
	}
	writeJSON(w, http.StatusOK, TokenizeResponse{Tokens: tokens})
}
