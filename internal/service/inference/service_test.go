package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
)

type fakeRunnable struct {
	content string
	err     error
	lastIn  map[string]any
}

func (f *fakeRunnable) Invoke(ctx context.Context, in map[string]any, opts ...compose.Option) (*schema.Message, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeRunnable) Stream(ctx context.Context, in map[string]any, opts ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunnable) Collect(ctx context.Context, in *schema.StreamReader[map[string]any], opts ...compose.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunnable) Transform(ctx context.Context, in *schema.StreamReader[map[string]any], opts ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func newTestService(analyzer, planner compose.Runnable[map[string]any, *schema.Message]) *Service {
	return &Service{
		analyzer:     analyzer,
		planner:      planner,
		wheelJSON:    "{}",
		historyLimit: 10,
	}
}

func TestAnalyzeMoodParsesResult(t *testing.T) {
	fake := &fakeRunnable{content: `Here you go: {"mood": "Content", "confidence": 0.85} done`}
	svc := newTestService(fake, nil)

	result, err := svc.AnalyzeMood(context.Background(), nil, "How are you?", "Pretty relaxed, honestly")
	if err != nil {
		t.Fatalf("AnalyzeMood failed: %v", err)
	}
	if result.Mood != "content" {
		t.Fatalf("expected lowercased mood, got %q", result.Mood)
	}
	if result.Confidence != 0.85 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
}

func TestAnalyzeMoodClampsConfidence(t *testing.T) {
	fake := &fakeRunnable{content: `{"mood": "happy", "confidence": 1.7}`}
	svc := newTestService(fake, nil)

	result, err := svc.AnalyzeMood(context.Background(), nil, "q", "a")
	if err != nil {
		t.Fatalf("AnalyzeMood failed: %v", err)
	}
	if result.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", result.Confidence)
	}
}

func TestAnalyzeMoodRejectsMissingJSON(t *testing.T) {
	fake := &fakeRunnable{content: "I cannot tell"}
	svc := newTestService(fake, nil)

	if _, err := svc.AnalyzeMood(context.Background(), nil, "q", "a"); err == nil {
		t.Fatal("expected parse error for non-JSON output")
	}
}

func TestAnalyzeMoodPropagatesModelError(t *testing.T) {
	fake := &fakeRunnable{err: errors.New("model down")}
	svc := newTestService(fake, nil)

	if _, err := svc.AnalyzeMood(context.Background(), nil, "q", "a"); err == nil {
		t.Fatal("expected error from failed invoke")
	}
}

func TestNextQuestionTargetsDeeperLevel(t *testing.T) {
	fake := &fakeRunnable{content: `{"question": "What moments made you feel that way recently?"}`}
	svc := newTestService(nil, fake)

	question, err := svc.NextQuestion(context.Background(), nil, 1, 3)
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if question != "What moments made you feel that way recently?" {
		t.Fatalf("unexpected question: %q", question)
	}

	if got := fake.lastIn["target_depth"]; got != 2 {
		t.Fatalf("expected target depth 2, got %v", got)
	}
	if got := fake.lastIn["target_depth_name"]; got != "secondary" {
		t.Fatalf("expected secondary target, got %v", got)
	}
}

func TestNextQuestionCapsTargetAtMaxDepth(t *testing.T) {
	fake := &fakeRunnable{content: `{"question": "And how does that sit with you now?"}`}
	svc := newTestService(nil, fake)

	if _, err := svc.NextQuestion(context.Background(), nil, 3, 3); err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if got := fake.lastIn["target_depth"]; got != 3 {
		t.Fatalf("expected target depth capped at 3, got %v", got)
	}
}

func TestNextQuestionStripsWrappingQuotes(t *testing.T) {
	fake := &fakeRunnable{content: `{"question": "\"Where does that feeling show up in your day?\""}`}
	svc := newTestService(nil, fake)

	question, err := svc.NextQuestion(context.Background(), nil, 0, 3)
	if err != nil {
		t.Fatalf("NextQuestion failed: %v", err)
	}
	if question != "Where does that feeling show up in your day?" {
		t.Fatalf("quotes not stripped: %q", question)
	}
}

func TestFormatQAHistoryRespectsLimit(t *testing.T) {
	turns := []agentmodel.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
	}

	got := formatQAHistory(turns, 2)
	want := "Q: q2\nA: a2\nQ: q3\nA: a3"
	if got != want {
		t.Fatalf("unexpected history rendering:\n%s", got)
	}
}

func TestFormatMoodHistorySkipsEmptyMoods(t *testing.T) {
	turns := []agentmodel.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2", Mood: "lonely", Confidence: 0.7},
	}

	got := formatMoodHistory(turns, 10)
	want := "Mood: lonely, Confidence: 0.70"
	if got != want {
		t.Fatalf("unexpected mood history: %q", got)
	}
}
