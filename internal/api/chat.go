package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/shopassist/internal/pipeline"
	"github.com/kalambet/shopassist/internal/session"
)

type sendMessageRequest struct {
	SessionID *int64  `json:"sessionId"`
	Agent     *string `json:"agent"`
	Message   string  `json:"message"`
	ProductID *int64  `json:"productId"`
	Page      string  `json:"page"`
}

func handleSendMessage(chat *pipeline.Chat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		userID, _ := UserID(r.Context())
		reply, err := chat.SendMessage(r.Context(), userID, pipeline.SendRequest{
			SessionID: req.SessionID,
			Agent:     req.Agent,
			Message:   req.Message,
			ProductID: req.ProductID,
			Page:      req.Page,
		})
		if err != nil {
			internalError(w, r, "chat: send message failed", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleLatestSession(chat *pipeline.Chat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := r.URL.Query().Get("agent")
		if agent == "" {
			agent = session.DefaultAgent
		}

		userID, _ := UserID(r.Context())
		view, err := chat.LatestSession(r.Context(), userID, agent)
		if err != nil {
			internalError(w, r, "chat: latest session failed", err)
			return
		}
		if view == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleSessionMessages(chat *pipeline.Chat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || sessionID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid session id")
			return
		}

		userID, _ := UserID(r.Context())
		msgs, err := chat.Messages(r.Context(), userID, sessionID)
		if errors.Is(err, pipeline.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			internalError(w, r, "chat: list messages failed", err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
