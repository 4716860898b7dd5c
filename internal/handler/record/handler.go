// Package record serves archived session records.
package record

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	"github.com/moodwheel/agent/backend/pkg/utils"
)

// Store is the archive query surface this handler needs.
type Store interface {
	ListSessionRecords(ctx context.Context, limit int64) ([]agentmodel.SessionRecord, error)
	GetSessionRecord(ctx context.Context, sessionID string) (*agentmodel.SessionRecord, error)
}

// Handler serves record queries.
type Handler struct {
	store Store
}

// New creates the record handler.
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the record endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/records", h.handleList)
	r.Get("/records/{sessionID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.store.ListSessionRecords(r.Context(), limit)
	if err != nil {
		log.Printf("[record] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []agentmodel.SessionRecord{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	record, err := h.store.GetSessionRecord(r.Context(), sessionID)
	if err != nil {
		log.Printf("[record] get %s failed: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	if record == nil {
		utils.RespondError(w, http.StatusNotFound, "record not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, record)
}
