package probe

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	agentservice "github.com/moodwheel/agent/backend/internal/service/agent"
	"github.com/moodwheel/agent/backend/internal/service/inference"
	"github.com/moodwheel/agent/backend/internal/service/session"
)

type fakeSpeaker struct {
	chunks [][]byte
}

func (f *fakeSpeaker) Speak(ctx context.Context, sessionID, text string, emit func(chunk []byte) error) error {
	for _, chunk := range f.chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

type fakeListener struct {
	answer string
}

func (f *fakeListener) Listen(ctx context.Context, sessionID string, audio <-chan []byte, onTranscript func(text string, isFinal bool)) (string, error) {
	onTranscript(f.answer, false)
	onTranscript(f.answer, true)
	return f.answer, nil
}

type fakeAnalyzer struct {
	result inference.MoodResult
}

func (f *fakeAnalyzer) AnalyzeMood(ctx context.Context, history []agentmodel.Turn, question, answer string) (inference.MoodResult, error) {
	return f.result, nil
}

type fakePlanner struct{}

func (f *fakePlanner) NextQuestion(ctx context.Context, history []agentmodel.Turn, currentDepth, maxDepth int) (string, error) {
	return "What makes you feel that way?", nil
}

type fakeFinalizer struct {
	done chan *agentmodel.Session
}

func (f *fakeFinalizer) FinalizeSession(s *agentmodel.Session) {
	f.done <- s
}

type serverEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Chunk      string  `json:"chunk"`
	Mood       string  `json:"mood"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

func testConfig() agentservice.Config {
	return agentservice.Config{
		MaxQuestions:        2,
		MaxDepth:            3,
		ConfidenceThreshold: 0.9,
		PlaybackAckTimeout:  2 * time.Second,
		Greeting:            "Hello! How are you feeling today?",
	}
}

func startTestServer(t *testing.T, cfg agentservice.Config, speaker agentservice.QuestionSpeaker, listener agentservice.AnswerListener, analyzer inference.MoodAnalyzer, finalizer agentservice.Finalizer, registry *session.Registry) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	handler := New(cfg, speaker, listener, analyzer, &fakePlanner{}, finalizer, registry)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return srv, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) serverEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event serverEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return event
}

func TestSessionHighConfidenceSingleTurn(t *testing.T) {
	finalizer := &fakeFinalizer{done: make(chan *agentmodel.Session, 1)}
	registry := session.NewRegistry()
	_, conn := startTestServer(t,
		testConfig(),
		&fakeSpeaker{chunks: [][]byte{[]byte("chunk-a"), []byte("chunk-b")}},
		&fakeListener{answer: "I feel completely free lately"},
		&fakeAnalyzer{result: inference.MoodResult{Mood: "free", Confidence: 0.95}},
		finalizer,
		registry,
	)

	// Question audio arrives before the question text.
	for _, want := range []string{"chunk-a", "chunk-b"} {
		event := readEvent(t, conn)
		if event.Type != "question_audio_base_64" {
			t.Fatalf("expected question audio, got %q", event.Type)
		}
		decoded, err := base64.StdEncoding.DecodeString(event.Chunk)
		if err != nil {
			t.Fatalf("chunk is not valid base64: %v", err)
		}
		if string(decoded) != want {
			t.Fatalf("expected chunk %q, got %q", want, decoded)
		}
	}

	event := readEvent(t, conn)
	if event.Type != "question" || event.Text != "Hello! How are you feeling today?" {
		t.Fatalf("expected greeting question, got %+v", event)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio_playback_finished"}`)); err != nil {
		t.Fatalf("failed to ack playback: %v", err)
	}

	if event := readEvent(t, conn); event.Type != "listening" {
		t.Fatalf("expected listening, got %q", event.Type)
	}

	// Microphone audio is accepted while listening.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("failed to send audio: %v", err)
	}

	event = readEvent(t, conn)
	if event.Type != "transcript" || event.IsFinal {
		t.Fatalf("expected partial transcript, got %+v", event)
	}
	event = readEvent(t, conn)
	if event.Type != "transcript" || !event.IsFinal {
		t.Fatalf("expected final transcript, got %+v", event)
	}
	if event.Transcript != "I feel completely free lately" {
		t.Fatalf("unexpected transcript: %q", event.Transcript)
	}

	if event := readEvent(t, conn); event.Type != "analyzing" {
		t.Fatalf("expected analyzing, got %q", event.Type)
	}

	event = readEvent(t, conn)
	if event.Type != "result" {
		t.Fatalf("expected result, got %+v", event)
	}
	if event.Mood != "free" || event.Confidence != 0.95 {
		t.Fatalf("unexpected result: %+v", event)
	}

	select {
	case archived := <-finalizer.done:
		if archived.StopReason != agentmodel.StoppedHighConfidence {
			t.Fatalf("expected high confidence stop, got %s", archived.StopReason)
		}
		if len(archived.Turns) != 1 {
			t.Fatalf("expected 1 turn, got %d", len(archived.Turns))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session was never finalized")
	}
}

func TestSessionProceedsWithoutPlaybackAck(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQuestions = 1
	cfg.PlaybackAckTimeout = 20 * time.Millisecond

	finalizer := &fakeFinalizer{done: make(chan *agentmodel.Session, 1)}
	_, conn := startTestServer(t,
		cfg,
		&fakeSpeaker{},
		&fakeListener{answer: "a bit tired"},
		&fakeAnalyzer{result: inference.MoodResult{Mood: "bored", Confidence: 0.4}},
		finalizer,
		session.NewRegistry(),
	)

	if event := readEvent(t, conn); event.Type != "question" {
		t.Fatalf("expected question, got %q", event.Type)
	}

	// Never send the playback ack; the session must still advance.
	if event := readEvent(t, conn); event.Type != "listening" {
		t.Fatalf("expected listening after ack timeout, got %q", event.Type)
	}

	for {
		event := readEvent(t, conn)
		if event.Type == "result" {
			if event.Mood != "bored" {
				t.Fatalf("unexpected mood: %q", event.Mood)
			}
			break
		}
	}

	select {
	case archived := <-finalizer.done:
		if archived.StopReason != agentmodel.StoppedMaxTurns {
			t.Fatalf("expected max turns stop, got %s", archived.StopReason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session was never finalized")
	}
}

func TestSessionRegistersWhileLive(t *testing.T) {
	registry := session.NewRegistry()
	ready := make(chan struct{})
	finalizer := &fakeFinalizer{done: make(chan *agentmodel.Session, 1)}

	_, conn := startTestServer(t,
		testConfig(),
		&fakeSpeaker{},
		&blockingListener{entered: ready},
		&fakeAnalyzer{result: inference.MoodResult{Mood: "free", Confidence: 0.95}},
		finalizer,
		registry,
	)

	if event := readEvent(t, conn); event.Type != "question" {
		t.Fatalf("expected question, got %q", event.Type)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio_playback_finished"}`)); err != nil {
		t.Fatalf("failed to ack playback: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never entered")
	}
	if registry.Count() != 1 {
		t.Fatalf("expected 1 live session, got %d", registry.Count())
	}

	conn.Close()

	deadline := time.After(5 * time.Second)
	for registry.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("session never left the registry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// blockingListener signals entry and then waits for cancellation.
type blockingListener struct {
	entered chan struct{}
}

func (b *blockingListener) Listen(ctx context.Context, sessionID string, audio <-chan []byte, onTranscript func(text string, isFinal bool)) (string, error) {
	close(b.entered)
	<-ctx.Done()
	return "", ctx.Err()
}
