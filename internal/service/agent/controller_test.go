package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	"github.com/moodwheel/agent/backend/internal/service/inference"
)

type fakeSpeaker struct {
	chunks [][]byte
	err    error
}

func (f *fakeSpeaker) Speak(ctx context.Context, sessionID, text string, emit func(chunk []byte) error) error {
	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

type fakeListener struct {
	answers   []string
	fragments []string
	err       error
	calls     int
}

func (f *fakeListener) Listen(ctx context.Context, sessionID string, audio <-chan []byte, onTranscript func(text string, isFinal bool)) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	for _, fragment := range f.fragments {
		if onTranscript != nil {
			onTranscript(fragment, true)
		}
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}

type fakeAnalyzer struct {
	results []inference.MoodResult
	err     error
	calls   int
}

func (f *fakeAnalyzer) AnalyzeMood(ctx context.Context, history []agentmodel.Turn, question, answer string) (inference.MoodResult, error) {
	if f.err != nil {
		return inference.MoodResult{}, f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

type fakePlanner struct {
	questions []string
	err       error
	calls     int
}

func (f *fakePlanner) NextQuestion(ctx context.Context, history []agentmodel.Turn, currentDepth, maxDepth int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.questions) {
		idx = len(f.questions) - 1
	}
	return f.questions[idx], nil
}

type fakeFinalizer struct {
	mu      sync.Mutex
	session *agentmodel.Session
}

func (f *fakeFinalizer) FinalizeSession(session *agentmodel.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
}

func (f *fakeFinalizer) finalized() *agentmodel.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

type eventRecorder struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (r *eventRecorder) sink(event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) lastResult(t *testing.T) resultEvent {
	t.Helper()
	for _, ev := range r.all() {
		if result, ok := ev.(resultEvent); ok {
			return result
		}
	}
	t.Fatal("no result event emitted")
	return resultEvent{}
}

func testConfig() Config {
	return Config{
		MaxQuestions:        5,
		MaxDepth:            3,
		ConfidenceThreshold: 0.9,
		PlaybackAckTimeout:  10 * time.Millisecond,
		Greeting:            "Hello! How are you feeling today?",
	}
}

func newTestController(cfg Config, speaker QuestionSpeaker, listener AnswerListener, analyzer inference.MoodAnalyzer, planner inference.QuestionPlanner, finalizer Finalizer, sink EventSink) *Controller {
	return NewController("test-session", cfg, speaker, listener, analyzer, planner, finalizer, sink)
}

func TestControllerStopsOnHighConfidenceAtMaxDepth(t *testing.T) {
	recorder := &eventRecorder{}
	planner := &fakePlanner{questions: []string{"unexpected"}}
	finalizer := &fakeFinalizer{}

	ctrl := newTestController(
		testConfig(),
		&fakeSpeaker{},
		&fakeListener{answers: []string{"I just feel completely free lately"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "free", Confidence: 0.95}}},
		planner,
		finalizer,
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := ctrl.Session()
	if session.QuestionCount != 1 {
		t.Fatalf("expected 1 turn, got %d", session.QuestionCount)
	}
	if session.StopReason != agentmodel.StoppedHighConfidence {
		t.Fatalf("unexpected stop reason: %s", session.StopReason)
	}
	if planner.calls != 0 {
		t.Fatal("planner should not run when the first answer already stops the session")
	}

	result := recorder.lastResult(t)
	if result.Mood != "free" || result.Confidence != 0.95 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if finalizer.finalized() == nil {
		t.Fatal("session was not archived")
	}
}

func TestControllerContinuesWhenDepthTooShallow(t *testing.T) {
	recorder := &eventRecorder{}
	planner := &fakePlanner{questions: []string{"What makes that contentment feel the way it does?"}}

	cfg := testConfig()
	cfg.MaxQuestions = 2

	// High confidence but only secondary depth must not stop the probe.
	ctrl := newTestController(
		cfg,
		&fakeSpeaker{},
		&fakeListener{answers: []string{"Pretty settled I guess"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "content", Confidence: 0.95}}},
		planner,
		&fakeFinalizer{},
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := ctrl.Session()
	if session.QuestionCount != 2 {
		t.Fatalf("expected 2 turns, got %d", session.QuestionCount)
	}
	if planner.calls != 1 {
		t.Fatalf("expected 1 planner call, got %d", planner.calls)
	}
	if session.StopReason != agentmodel.StoppedMaxTurns {
		t.Fatalf("unexpected stop reason: %s", session.StopReason)
	}
}

func TestControllerMaxTurnsStillReportsBestEstimate(t *testing.T) {
	recorder := &eventRecorder{}
	cfg := testConfig()
	cfg.MaxQuestions = 3

	ctrl := newTestController(
		cfg,
		&fakeSpeaker{},
		&fakeListener{answers: []string{"not sure", "hard to say", "a bit down maybe"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "sad", Confidence: 0.6}}},
		&fakePlanner{questions: []string{"q2", "q3"}},
		&fakeFinalizer{},
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := ctrl.Session()
	if session.StopReason != agentmodel.StoppedMaxTurns {
		t.Fatalf("unexpected stop reason: %s", session.StopReason)
	}

	result := recorder.lastResult(t)
	if result.Mood != "sad" || result.Confidence != 0.6 {
		t.Fatalf("max-turns result should carry the best estimate, got %+v", result)
	}
}

func TestControllerFirstQuestionIsGreeting(t *testing.T) {
	recorder := &eventRecorder{}
	cfg := testConfig()
	cfg.MaxQuestions = 1

	ctrl := newTestController(
		cfg,
		&fakeSpeaker{chunks: [][]byte{{1, 2}, {3, 4}}},
		&fakeListener{answers: []string{"fine"}, fragments: []string{"fine"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "happy", Confidence: 0.5}}},
		&fakePlanner{},
		nil,
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := recorder.all()
	if len(events) < 6 {
		t.Fatalf("expected a full turn of events, got %d", len(events))
	}

	// Audio chunks stream before the question text.
	if _, ok := events[0].(questionAudioEvent); !ok {
		t.Fatalf("expected audio chunk first, got %T", events[0])
	}
	if _, ok := events[1].(questionAudioEvent); !ok {
		t.Fatalf("expected second audio chunk, got %T", events[1])
	}
	question, ok := events[2].(questionEvent)
	if !ok {
		t.Fatalf("expected question text third, got %T", events[2])
	}
	if question.Text != "Hello! How are you feeling today?" {
		t.Fatalf("first question should be the greeting, got %q", question.Text)
	}
	if _, ok := events[3].(listeningEvent); !ok {
		t.Fatalf("expected listening event, got %T", events[3])
	}
	if _, ok := events[4].(transcriptEvent); !ok {
		t.Fatalf("expected transcript relay, got %T", events[4])
	}
	if _, ok := events[5].(analyzingEvent); !ok {
		t.Fatalf("expected analyzing event, got %T", events[5])
	}
}

func TestControllerAnalyzerFailureEmitsErrorAndArchives(t *testing.T) {
	recorder := &eventRecorder{}
	finalizer := &fakeFinalizer{}

	ctrl := newTestController(
		testConfig(),
		&fakeSpeaker{},
		&fakeListener{answers: []string{"whatever"}},
		&fakeAnalyzer{err: errors.New("model unavailable")},
		&fakePlanner{},
		finalizer,
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed analysis")
	}

	session := ctrl.Session()
	if session.StopReason != agentmodel.AbortedError {
		t.Fatalf("unexpected stop reason: %s", session.StopReason)
	}

	var sawError bool
	for _, ev := range recorder.all() {
		if _, ok := ev.(errorEvent); ok {
			sawError = true
		}
		if _, ok := ev.(resultEvent); ok {
			t.Fatal("aborted session must not emit a result")
		}
	}
	if !sawError {
		t.Fatal("expected an error event")
	}
	if finalizer.finalized() == nil {
		t.Fatal("aborted session was not archived")
	}
}

func TestControllerDisconnectFinalizesSilently(t *testing.T) {
	recorder := &eventRecorder{}
	finalizer := &fakeFinalizer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := newTestController(
		testConfig(),
		&fakeSpeaker{},
		&fakeListener{answers: []string{"unused"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "happy", Confidence: 0.5}}},
		&fakePlanner{},
		finalizer,
		recorder.sink,
	)

	err := ctrl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if ctrl.Session().StopReason != agentmodel.AbortedDisconnect {
		t.Fatalf("unexpected stop reason: %s", ctrl.Session().StopReason)
	}
	for _, ev := range recorder.all() {
		if _, ok := ev.(errorEvent); ok {
			t.Fatal("disconnect must not emit an error event")
		}
	}
	if finalizer.finalized() == nil {
		t.Fatal("disconnected session was not archived")
	}
}

func TestControllerZeroTurnSessionFinalizes(t *testing.T) {
	recorder := &eventRecorder{}
	finalizer := &fakeFinalizer{}

	cfg := testConfig()
	cfg.MaxQuestions = 0

	ctrl := newTestController(cfg, &fakeSpeaker{}, &fakeListener{answers: []string{""}}, &fakeAnalyzer{results: []inference.MoodResult{{}}}, &fakePlanner{}, finalizer, recorder.sink)
	ctrl.HandleAudio([]byte{1, 2, 3})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := recorder.lastResult(t)
	if result.Mood != "" || result.Confidence != 0 {
		t.Fatalf("zero-turn result should be empty, got %+v", result)
	}

	archived := finalizer.finalized()
	if archived == nil {
		t.Fatal("zero-turn session was not archived")
	}
	if len(archived.Audio) != 3 {
		t.Fatalf("captured audio should be archived, got %d bytes", len(archived.Audio))
	}
}

func TestControllerPlannerFailureAborts(t *testing.T) {
	recorder := &eventRecorder{}

	ctrl := newTestController(
		testConfig(),
		&fakeSpeaker{},
		&fakeListener{answers: []string{"meh"}},
		&fakeAnalyzer{results: []inference.MoodResult{{Mood: "bored", Confidence: 0.4}}},
		&fakePlanner{err: errors.New("planner down")},
		nil,
		recorder.sink,
	)

	if err := ctrl.Run(context.Background()); err == nil {
		t.Fatal("expected planner failure to abort the session")
	}
	if ctrl.Session().StopReason != agentmodel.AbortedError {
		t.Fatalf("unexpected stop reason: %s", ctrl.Session().StopReason)
	}
}
