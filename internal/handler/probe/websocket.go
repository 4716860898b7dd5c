// Package probe exposes the voice probing agent over a websocket.
package probe

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	agentservice "github.com/moodwheel/agent/backend/internal/service/agent"
	"github.com/moodwheel/agent/backend/internal/service/inference"
	"github.com/moodwheel/agent/backend/internal/service/session"
)

const (
	readDeadline = 60 * time.Second
	writeWait    = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// Handler upgrades probing connections and runs one controller per
// session.
type Handler struct {
	cfg       agentservice.Config
	speaker   agentservice.QuestionSpeaker
	listener  agentservice.AnswerListener
	analyzer  inference.MoodAnalyzer
	planner   inference.QuestionPlanner
	finalizer agentservice.Finalizer
	registry  *session.Registry
	upgrader  websocket.Upgrader
}

// New creates the probing handler.
func New(
	cfg agentservice.Config,
	speaker agentservice.QuestionSpeaker,
	listener agentservice.AnswerListener,
	analyzer inference.MoodAnalyzer,
	planner inference.QuestionPlanner,
	finalizer agentservice.Finalizer,
	registry *session.Registry,
) *Handler {
	return &Handler{
		cfg:       cfg,
		speaker:   speaker,
		listener:  listener,
		analyzer:  analyzer,
		planner:   planner,
		finalizer: finalizer,
		registry:  registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the probing websocket.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent/ws", h.handleSession)
}

// wsSink serializes event writes onto the connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) send(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[probe] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	log.Printf("[probe] new session: %s", sessionID)

	sink := &wsSink{conn: conn}
	ctrl := agentservice.NewController(
		sessionID, h.cfg,
		h.speaker, h.listener, h.analyzer, h.planner, h.finalizer,
		sink.send,
	)

	if h.registry != nil {
		h.registry.Register(ctrl.Session())
		defer h.registry.Unregister(sessionID)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(ctx, sink)
	go h.readLoop(cancel, conn, ctrl)

	if err := ctrl.Run(ctx); err != nil {
		log.Printf("[probe] session=%s ended: %v", sessionID, err)
		return
	}

	log.Printf("[probe] session=%s completed: mood=%s confidence=%.2f reason=%s",
		sessionID, ctrl.Session().Mood, ctrl.Session().Confidence, ctrl.Session().StopReason)

	// Give the client a moment to drain the result before the socket
	// closes underneath it.
	time.Sleep(500 * time.Millisecond)
}

// readLoop ingests client frames until the connection drops; binary
// frames are microphone audio, text frames are control messages.
func (h *Handler) readLoop(cancel context.CancelFunc, conn *websocket.Conn, ctrl *agentservice.Controller) {
	defer cancel()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[probe] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch messageType {
		case websocket.BinaryMessage:
			ctrl.HandleAudio(data)
		case websocket.TextMessage:
			var msg agentservice.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("[probe] invalid client message: %v", err)
				continue
			}
			if msg.Type == agentservice.PlaybackFinishedType {
				ctrl.HandlePlaybackFinished()
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, sink *wsSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}
