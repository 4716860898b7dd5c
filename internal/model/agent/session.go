package agent

import (
	"sync"
	"time"
)

// StopReason records why a probing session ended.
type StopReason string

const (
	// StoppedHighConfidence means the mood was pinned with confidence at
	// maximum depth before the question budget ran out.
	StoppedHighConfidence StopReason = "high_confidence"
	// StoppedMaxTurns means the question budget was exhausted.
	StoppedMaxTurns StopReason = "max_turns"
	// AbortedError means an unrecoverable error ended the session.
	AbortedError StopReason = "error"
	// AbortedDisconnect means the client went away mid-session.
	AbortedDisconnect StopReason = "disconnect"
)

// Turn is one completed question/answer/mood-assessment cycle. Turns are
// appended once and never mutated afterwards.
type Turn struct {
	Question   string  `json:"question" bson:"question"`
	Answer     string  `json:"answer" bson:"answer"`
	Mood       string  `json:"mood" bson:"mood"`
	Confidence float64 `json:"confidence" bson:"confidence"`
	Depth      int     `json:"depth" bson:"depth"`
}

// Session is the mutable state of one live probing dialogue. The turn
// controller mutates it, the websocket read loop appends audio, and the
// liveness feed reads snapshots, so the methods take the lock.
type Session struct {
	mu sync.RWMutex

	ID        string
	CreatedAt time.Time

	Turns         []Turn
	Mood          string
	Confidence    float64
	Depth         int
	QuestionCount int
	StopReason    StopReason

	// Audio accumulates every raw PCM chunk received on the connection,
	// regardless of which turn (if any) consumed it.
	Audio []byte
}

// NewSession creates an empty session with a fresh timestamp.
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
	}
}

// AppendAudio records raw audio bytes for later archival.
func (s *Session) AppendAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audio = append(s.Audio, chunk...)
}

// CompleteTurn appends a finished turn and advances the question counter.
func (s *Session) CompleteTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, turn)
	s.Mood = turn.Mood
	s.Confidence = turn.Confidence
	s.Depth = turn.Depth
	s.QuestionCount++
}

// SetStopReason records why the session ended.
func (s *Session) SetStopReason(reason StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopReason = reason
}

// SessionSnapshot is a consistent read of a live session's progress.
type SessionSnapshot struct {
	ID            string     `json:"session_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Turns         []Turn     `json:"turns"`
	Mood          string     `json:"mood"`
	Confidence    float64    `json:"confidence"`
	Depth         int        `json:"depth"`
	QuestionCount int        `json:"question_count"`
	StopReason    StopReason `json:"stop_reason,omitempty"`
	AudioBytes    int        `json:"audio_bytes"`
}

// Snapshot copies the session state under the lock. The audio itself is
// not copied; AudioCopy exists for archival.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)

	return SessionSnapshot{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		Turns:         turns,
		Mood:          s.Mood,
		Confidence:    s.Confidence,
		Depth:         s.Depth,
		QuestionCount: s.QuestionCount,
		StopReason:    s.StopReason,
		AudioBytes:    len(s.Audio),
	}
}

// AudioCopy returns the captured audio under the lock.
func (s *Session) AudioCopy() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.Audio))
	copy(out, s.Audio)
	return out
}
