// Package transcribe exposes standalone speech-to-text: a continuous
// websocket stream and a one-shot upload endpoint.
package transcribe

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
	"github.com/moodwheel/agent/backend/internal/service/archive"
	"github.com/moodwheel/agent/backend/internal/service/inference"
	"github.com/moodwheel/agent/backend/internal/service/speech"
	"github.com/moodwheel/agent/backend/pkg/utils"
)

// maxUploadBytes caps one-shot audio uploads.
const maxUploadBytes = 32 << 20

// Transcriber is the recognition surface this handler needs.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
	RunContinuous(ctx context.Context, sessionID string, audio <-chan []byte, sink speech.TranscriptSink) error
}

// Archiver persists standalone transcriptions.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, record *agentmodel.TranscriptRecord, audio []byte) error
}

// Handler serves the transcription routes.
type Handler struct {
	transcriber Transcriber
	analyzer    inference.MoodAnalyzer
	archiver    Archiver
	upgrader    websocket.Upgrader
}

// New creates the transcription handler. analyzer and archiver may be
// nil; the corresponding steps are skipped.
func New(transcriber Transcriber, analyzer inference.MoodAnalyzer, archiver Archiver) *Handler {
	return &Handler{
		transcriber: transcriber,
		analyzer:    analyzer,
		archiver:    archiver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the transcription endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transcribe/ws", h.handleContinuous)
	r.Post("/transcriptions", h.handleUpload)
}

type transcriptMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// handleContinuous streams recognition for as long as the client keeps
// sending audio. Final fragments are accumulated and returned as one
// joined transcript when the stream ends.
func (h *Handler) handleContinuous(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transcribe] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	log.Printf("[transcribe] continuous session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	audio := make(chan []byte, 64)

	var (
		writeMu sync.Mutex
		finals  []string

		audioMu  sync.Mutex
		captured []byte
	)
	send := func(msg any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[transcribe] session=%s write failed: %v", sessionID, err)
		}
	}

	sink := func(ev speechmodel.TranscriptEvent) {
		if ev.IsFinal {
			writeMu.Lock()
			finals = append(finals, ev.Text)
			writeMu.Unlock()
		}
		send(transcriptMessage{Type: "transcript", Transcript: ev.Text, IsFinal: ev.IsFinal})
	}

	go func() {
		defer close(audio)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage || len(data) == 0 {
				continue
			}
			audioMu.Lock()
			if room := maxUploadBytes - len(captured); room > 0 {
				grab := data
				if len(grab) > room {
					grab = grab[:room]
				}
				captured = append(captured, grab...)
			}
			audioMu.Unlock()
			for offset := 0; offset < len(data); offset += speechmodel.MaxChunkBytes {
				end := offset + speechmodel.MaxChunkBytes
				if end > len(data) {
					end = len(data)
				}
				piece := make([]byte, end-offset)
				copy(piece, data[offset:end])
				select {
				case audio <- piece:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	if err := h.transcriber.RunContinuous(ctx, sessionID, audio, sink); err != nil && ctx.Err() == nil {
		log.Printf("[transcribe] session=%s stream failed: %v", sessionID, err)
		send(map[string]string{"type": "error", "message": "transcription stream failed"})
		return
	}

	writeMu.Lock()
	joined := strings.Join(finals, ". ")
	writeMu.Unlock()

	send(transcriptMessage{Type: "final_transcript", Transcript: joined, IsFinal: true})

	if strings.TrimSpace(joined) == "" {
		return
	}
	if h.analyzer == nil && h.archiver == nil {
		return
	}

	audioMu.Lock()
	pcm := captured
	captured = nil
	audioMu.Unlock()

	go h.finalizeContinuous(sessionID, joined, pcm)
}

// finalizeContinuous runs the post-stream pipeline once the client is
// gone: mood inference over the whole transcript, then archival of the
// record and its audio. Failures are logged only.
func (h *Handler) finalizeContinuous(sessionID, transcript string, pcm []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record := &agentmodel.TranscriptRecord{
		RecordID:   sessionID,
		CreatedAt:  time.Now(),
		Transcript: transcript,
	}

	if h.analyzer != nil {
		result, err := h.analyzer.AnalyzeMood(ctx, nil, "Describe how you are feeling.", transcript)
		if err != nil {
			log.Printf("[transcribe] session=%s mood analysis failed: %v", sessionID, err)
		} else {
			record.Mood = result.Mood
			record.Confidence = result.Confidence
		}
	}

	if h.archiver == nil {
		return
	}

	var audio []byte
	if len(pcm) > 0 {
		audio = archive.WAVFromPCM(pcm)
	}
	if err := h.archiver.ArchiveTranscript(ctx, record, audio); err != nil {
		log.Printf("[transcribe] session=%s archival failed: %v", sessionID, err)
		return
	}
	log.Printf("[transcribe] session=%s archived continuous transcript (%d audio bytes)", sessionID, len(pcm))
}

type uploadResponse struct {
	RecordID   string  `json:"record_id"`
	Transcript string  `json:"transcript"`
	Mood       string  `json:"mood,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// handleUpload transcribes one uploaded recording, analyzes its mood
// and archives the result.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	audio, format, err := readUploadedAudio(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio payload is empty")
		return
	}

	recordID := uuid.New().String()

	asrResp, err := h.transcriber.Transcribe(r.Context(), &speechmodel.ASRRequest{
		SessionID: recordID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
	})
	if err != nil {
		log.Printf("[transcribe] upload %s recognition failed: %v", recordID, err)
		utils.RespondError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	resp := uploadResponse{
		RecordID:   recordID,
		Transcript: asrResp.Text,
	}

	if h.analyzer != nil && strings.TrimSpace(asrResp.Text) != "" {
		result, err := h.analyzer.AnalyzeMood(r.Context(), nil, "Describe how you are feeling.", asrResp.Text)
		if err != nil {
			log.Printf("[transcribe] upload %s mood analysis failed: %v", recordID, err)
		} else {
			resp.Mood = result.Mood
			resp.Confidence = result.Confidence
		}
	}

	if h.archiver != nil {
		record := &agentmodel.TranscriptRecord{
			RecordID:   recordID,
			CreatedAt:  time.Now(),
			Transcript: asrResp.Text,
			Mood:       resp.Mood,
			Confidence: resp.Confidence,
		}
		if err := h.archiver.ArchiveTranscript(r.Context(), record, audio); err != nil {
			log.Printf("[transcribe] upload %s archival failed: %v", recordID, err)
		}
	}

	utils.RespondJSON(w, http.StatusCreated, resp)
}

// readUploadedAudio accepts either a multipart "file" part or a raw
// request body.
func readUploadedAudio(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}

		format := "wav"
		if name := header.Filename; strings.Contains(name, ".") {
			format = strings.TrimPrefix(name[strings.LastIndex(name, "."):], ".")
		}
		return data, format, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, "wav", nil
}
