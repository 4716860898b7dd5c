package agent

import "time"

// SessionRecord is the archived form of a finished session, keyed by
// session id in the records collection.
type SessionRecord struct {
	SessionID       string    `json:"sessionId" bson:"session_id"`
	CreatedAt       time.Time `json:"createdAt" bson:"created_at"`
	ArchivedAt      time.Time `json:"archivedAt" bson:"archived_at"`
	Turns           []Turn    `json:"turns" bson:"turns"`
	FinalMood       string    `json:"finalMood" bson:"final_mood"`
	FinalConfidence float64   `json:"finalConfidence" bson:"final_confidence"`
	FinalDepth      int       `json:"finalDepth" bson:"final_depth"`
	QuestionCount   int       `json:"questionCount" bson:"question_count"`
	StopReason      string    `json:"stopReason" bson:"stop_reason"`
	AudioRef        string    `json:"audioRef,omitempty" bson:"audio_ref,omitempty"`
	AudioBytes      int       `json:"audioBytes" bson:"audio_bytes"`
}

// TranscriptRecord is the archived form of a standalone transcription run
// (continuous or batch), the non-dialogue route family.
type TranscriptRecord struct {
	RecordID   string    `json:"recordId" bson:"record_id"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
	Transcript string    `json:"transcript" bson:"transcript"`
	Mood       string    `json:"mood" bson:"mood"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	AudioRef   string    `json:"audioRef,omitempty" bson:"audio_ref,omitempty"`
	AudioBytes int       `json:"audioBytes" bson:"audio_bytes"`
}
