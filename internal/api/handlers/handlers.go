// Package handlers implements the HTTP handlers for the Hearth assistant.
// Chat turns stream as server-sent events; everything else is plain JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentoven/hearth/internal/api/middleware"
	"github.com/agentoven/hearth/internal/guardrails"
	"github.com/agentoven/hearth/internal/orchestrator"
	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/store"
	"github.com/agentoven/hearth/internal/stream"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Service *orchestrator.Service
	Store   store.Store
}

// New creates a new Handlers instance.
func New(svc *orchestrator.Service, s store.Store) *Handlers {
	return &Handlers{Service: svc, Store: s}
}

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Message string `json:"message"`
}

// ══════════════════════════════════════════════════════════════
// ── Chat ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Chat runs one turn and streams the reply as OpenAI-style chunks. Errors
// that happen before the stream opens are plain JSON; a turn that fails
// while reasoning still gets a stream with the generic failure message.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	convID := chi.URLParam(r, "conversationID")
	turn, err := h.Service.Start(r.Context(), orchestrator.TurnRequest{
		ConversationID: convID,
		UserID:         middleware.GetUserID(r.Context()),
		Message:        req.Message,
	})
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, guardrails.ErrMessageTooLong):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, state.ErrCycleActive):
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	if turn != nil {
		w.Header().Set("X-Conversation-Id", turn.ConversationID)
		w.Header().Set("X-Trace-Id", turn.TraceID)
	}
	sink, sinkErr := stream.NewSSESink(w)
	if sinkErr != nil {
		if turn != nil {
			turn.Abandon(r.Context(), sinkErr)
		}
		respondError(w, http.StatusInternalServerError, sinkErr.Error())
		return
	}

	if err != nil {
		if werr := stream.WriteFailure(sink, "chatcmpl-"+uuid.NewString(), ""); werr != nil {
			log.Warn().Err(werr).Msg("Failed to send failure message")
		}
		return
	}

	if _, err := turn.Stream(r.Context(), sink); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", turn.ConversationID).
			Str("trace_id", turn.TraceID).
			Msg("Reply stream ended early")
	}
}

// ══════════════════════════════════════════════════════════════
// ── Conversation Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Store.ListMessages(r.Context(), chi.URLParam(r, "conversationID"), 0)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

// GetState returns the in-memory state of the conversation's latest cycle.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	snap, ok := h.Service.State(convID)
	if !ok {
		respondError(w, http.StatusNotFound, "no state for conversation "+convID)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ══════════════════════════════════════════════════════════════
// ── Tool Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Service.Registry().Infos())
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
