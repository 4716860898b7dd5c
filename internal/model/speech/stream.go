package speech

// Audio format constants for the inbound client stream: raw PCM16
// little-endian, 16kHz, mono.
const (
	SampleRate   = 16000
	SampleBits   = 16
	ChannelCount = 1

	// MaxChunkBytes bounds a single audio unit forwarded to a recognition
	// stream; larger client frames are split before queuing.
	MaxChunkBytes = 25600
)

// StreamConfig is the one-time configuration frame sent when a
// recognition stream opens.
type StreamConfig struct {
	Model      string    `json:"model_name"`
	Format     string    `json:"format"`
	SampleRate int       `json:"rate"`
	Bits       int       `json:"bits"`
	Channels   int       `json:"channel"`
	Language   string    `json:"language,omitempty"`
	VAD        VADConfig `json:"vad"`
}

// TranscriptEvent is one recognition result. Partial events are advisory
// and may be superseded; a final event is authoritative and appends to
// the answer in progress.
type TranscriptEvent struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"transcript"`
	IsFinal   bool   `json:"is_final"`
}
