package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/moodwheel/agent/backend/internal/handler/probe"
	"github.com/moodwheel/agent/backend/internal/handler/record"
	"github.com/moodwheel/agent/backend/internal/handler/transcribe"
	middlewarePkg "github.com/moodwheel/agent/backend/internal/middleware"
	"github.com/moodwheel/agent/backend/internal/service/session"
	"github.com/moodwheel/agent/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. Handlers may be nil
// when their backing service is not configured; the route is then
// either absent or answers 503.
func NewRouter(
	probeHandler *probe.Handler,
	transcribeHandler *transcribe.Handler,
	recordHandler *record.Handler,
	registry *session.Registry,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":        "ok",
				"live_sessions": registry.Count(),
			})
		})

		if probeHandler != nil {
			probeHandler.RegisterRoutes(api)
		}
		if transcribeHandler != nil {
			transcribeHandler.RegisterRoutes(api)
		}

		if recordHandler != nil {
			recordHandler.RegisterRoutes(api)
		} else {
			api.Get("/records", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "archive unavailable")
			})
		}

		// Live progress feed for one probing session.
		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			handleSessionStream(w, r, registry)
		})
	})

	return r
}

// handleSessionStream pushes periodic snapshots of a live session over
// SSE until the session ends or the client leaves.
func handleSessionStream(w http.ResponseWriter, r *http.Request, registry *session.Registry) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entry, live := registry.Get(sessionID)
	if !live {
		utils.RespondError(w, http.StatusNotFound, "session not live")
		return
	}

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening session stream for session=%s", sessionID)

	utils.SendSSEEvent(w, flusher, "status", map[string]any{
		"session_id": sessionID,
		"started_at": entry.StartedAt.UTC().Format(time.RFC3339),
	})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing session stream for session=%s", sessionID)
			return
		case <-ticker.C:
			entry, live := registry.Get(sessionID)
			if !live {
				utils.SendSSEEvent(w, flusher, "ended", map[string]any{
					"session_id": sessionID,
				})
				return
			}
			snap := entry.Session.Snapshot()
			utils.SendSSEChunk(w, flusher, map[string]any{
				"event":          "progress",
				"session_id":     sessionID,
				"question_count": snap.QuestionCount,
				"mood":           snap.Mood,
				"confidence":     snap.Confidence,
				"depth":          snap.Depth,
			})
		}
	}
}
