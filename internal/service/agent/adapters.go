package agent

import (
	"context"
	"fmt"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
	"github.com/moodwheel/agent/backend/internal/service/speech"
)

// speechListener adapts the streaming recognizer to the controller's
// one-answer-per-call contract.
type speechListener struct {
	transcriber speech.Transcriber
}

// NewSpeechListener wraps a transcriber as an AnswerListener.
func NewSpeechListener(transcriber speech.Transcriber) AnswerListener {
	return &speechListener{transcriber: transcriber}
}

func (l *speechListener) Listen(ctx context.Context, sessionID string, audio <-chan []byte, onTranscript func(text string, isFinal bool)) (string, error) {
	sub, err := l.transcriber.OpenSubsession(ctx, sessionID, audio, func(ev speechmodel.TranscriptEvent) {
		if onTranscript != nil {
			onTranscript(ev.Text, ev.IsFinal)
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to open recognition subsession: %w", err)
	}
	defer sub.Close()

	select {
	case <-sub.Ready():
		return sub.Answer(), nil
	case <-sub.Failed():
		return "", sub.Err()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// speechSpeaker adapts the streaming synthesizer to the controller's
// chunk callback contract.
type speechSpeaker struct {
	synthesizer speech.Synthesizer
}

// NewSpeechSpeaker wraps a synthesizer as a QuestionSpeaker.
func NewSpeechSpeaker(synthesizer speech.Synthesizer) QuestionSpeaker {
	return &speechSpeaker{synthesizer: synthesizer}
}

func (s *speechSpeaker) Speak(ctx context.Context, sessionID, text string, emit func(chunk []byte) error) error {
	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Format:    "mp3",
	}
	_, err := s.synthesizer.SynthesizeStream(ctx, req, speech.AudioChunkSink(emit))
	return err
}
