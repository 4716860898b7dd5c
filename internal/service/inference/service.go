// Package inference runs the language-model side of a probing session:
// mapping answers onto the wheel of emotions and planning the next
// question to ask.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/moodwheel/agent/backend/internal/analysis/emotion"
	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
)

// MoodResult is one mood estimate from the analyzer.
type MoodResult struct {
	Mood       string
	Confidence float64
}

// MoodAnalyzer estimates the user's mood from the dialogue so far.
type MoodAnalyzer interface {
	AnalyzeMood(ctx context.Context, history []agentmodel.Turn, question, answer string) (MoodResult, error)
}

// QuestionPlanner produces the next probing question.
type QuestionPlanner interface {
	NextQuestion(ctx context.Context, history []agentmodel.Turn, currentDepth, maxDepth int) (string, error)
}

// Config controls the inference service.
type Config struct {
	// HistoryLimit caps how many past turns are rendered into prompts.
	HistoryLimit int
}

// Service implements MoodAnalyzer and QuestionPlanner on top of a
// shared chat model.
type Service struct {
	analyzer     compose.Runnable[map[string]any, *schema.Message]
	planner      compose.Runnable[map[string]any, *schema.Message]
	wheelJSON    string
	historyLimit int
}

// NewService compiles the mood and question chains against the given
// chat model.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("inference requires a chat model")
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 10
	}

	wheelJSON, err := json.Marshal(emotion.GetWheel())
	if err != nil {
		return nil, fmt.Errorf("failed to render emotion wheel: %w", err)
	}

	svc := &Service{
		wheelJSON:    string(wheelJSON),
		historyLimit: historyLimit,
	}

	svc.analyzer, err = compileChain(ctx, chatModel, moodSystemPrompt, moodUserPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mood analyzer chain: %w", err)
	}

	svc.planner, err = compileChain(ctx, chatModel, questionSystemPrompt, questionUserPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile question planner chain: %w", err)
	}

	return svc, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, system, user string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	return chain.Compile(ctx)
}

// AnalyzeMood maps the latest answer onto the wheel of emotions.
func (s *Service) AnalyzeMood(ctx context.Context, history []agentmodel.Turn, question, answer string) (MoodResult, error) {
	input := map[string]any{
		"wheel_of_emotions": s.wheelJSON,
		"qa_history":        formatQAHistory(history, s.historyLimit),
		"mood_history":      formatMoodHistory(history, s.historyLimit),
		"latest_question":   strings.TrimSpace(question),
		"latest_answer":     strings.TrimSpace(answer),
	}

	msg, err := s.analyzer.Invoke(ctx, input)
	if err != nil {
		return MoodResult{}, fmt.Errorf("mood analysis failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return MoodResult{}, fmt.Errorf("mood analysis returned empty content")
	}

	var payload struct {
		Mood       string  `json:"mood"`
		Confidence float64 `json:"confidence"`
	}
	if err := parseJSONOutput(msg.Content, &payload); err != nil {
		return MoodResult{}, fmt.Errorf("mood analysis output parse failed: %w", err)
	}

	mood := strings.ToLower(strings.TrimSpace(payload.Mood))
	if mood == "" {
		return MoodResult{}, fmt.Errorf("mood analysis returned no mood")
	}

	return MoodResult{
		Mood:       mood,
		Confidence: clampConfidence(payload.Confidence),
	}, nil
}

// NextQuestion plans a follow-up question targeting one depth level
// deeper than the current estimate, capped at maxDepth.
func (s *Service) NextQuestion(ctx context.Context, history []agentmodel.Turn, currentDepth, maxDepth int) (string, error) {
	targetDepth := currentDepth + 1
	if targetDepth > maxDepth {
		targetDepth = maxDepth
	}

	input := map[string]any{
		"wheel_of_emotions":  s.wheelJSON,
		"qa_history":         formatQAHistory(history, s.historyLimit),
		"mood_history":       formatMoodHistory(history, s.historyLimit),
		"current_depth":      currentDepth,
		"current_depth_name": emotion.DepthName(currentDepth),
		"target_depth":       targetDepth,
		"target_depth_name":  emotion.DepthName(targetDepth),
	}

	msg, err := s.planner.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("question generation failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("question generation returned empty content")
	}

	var payload struct {
		Question string `json:"question"`
	}
	if err := parseJSONOutput(msg.Content, &payload); err != nil {
		return "", fmt.Errorf("question generation output parse failed: %w", err)
	}

	question := strings.Trim(strings.TrimSpace(payload.Question), `"`)
	if question == "" {
		return "", fmt.Errorf("question generation returned no question")
	}
	return question, nil
}

// parseJSONOutput extracts the first JSON object from model output that
// may be wrapped in prose or code fences.
func parseJSONOutput(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("missing json object")
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), out)
}

func formatQAHistory(history []agentmodel.Turn, limit int) string {
	if len(history) == 0 {
		return "none"
	}
	start := len(history) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(history); i++ {
		turn := history[i]
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("Q: ")
		builder.WriteString(strings.TrimSpace(turn.Question))
		builder.WriteString("\nA: ")
		builder.WriteString(strings.TrimSpace(turn.Answer))
	}
	return builder.String()
}

func formatMoodHistory(history []agentmodel.Turn, limit int) string {
	if len(history) == 0 {
		return "none"
	}
	start := len(history) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(history); i++ {
		turn := history[i]
		if strings.TrimSpace(turn.Mood) == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "Mood: %s, Confidence: %.2f", turn.Mood, turn.Confidence)
	}
	if builder.Len() == 0 {
		return "none"
	}
	return builder.String()
}

func clampConfidence(val float64) float64 {
	if val < 0 {
		return 0
	}
	if val > 1 {
		return 1
	}
	return val
}
