package speech

import (
	"context"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

// Transcriber is the recognition surface consumed by handlers and the
// probing agent.
type Transcriber interface {
	// OpenSubsession starts one turn's worth of streaming recognition.
	OpenSubsession(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) (*Subsession, error)
	// RunContinuous streams recognition until the audio channel closes,
	// rotating vendor connections as they age out.
	RunContinuous(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) error
	// Transcribe recognizes a complete audio buffer in one shot.
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Synthesizer is the text-to-speech surface consumed by the agent.
type Synthesizer interface {
	// SynthesizeStream hands synthesized audio to the sink chunk by chunk.
	SynthesizeStream(ctx context.Context, req *speechmodel.TTSRequest, sink AudioChunkSink) (*speechmodel.TTSResponse, error)
	// Synthesize returns the complete synthesized audio buffer.
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Service bundles the recognizer and synthesizer clients behind a single
// construction point.
type Service struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
}

// NewService wires the vendor clients from the shared speech config.
func NewService(config *speechmodel.SpeechConfig) *Service {
	return &Service{
		Transcriber: NewRecognizerClient(config),
		Synthesizer: NewSynthesizerClient(config),
	}
}
