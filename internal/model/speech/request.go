package speech

import "io"

// ASRRequest is a batch (whole-file) recognition request.
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // wav, pcm, webm, ...
	Language  string    `json:"language"` // en-US, ...
}

// TTSRequest asks the synthesizer to render text as audio.
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`  // playback rate 0.5-2.0
	Volume    float32 `json:"volume"` // 0.0-1.0
	Format    string  `json:"format"` // mp3, wav, ...
	Language  string  `json:"language"`
}
