package agent

// Server to client events for the probing websocket. Field names are
// part of the frontend contract.

type questionEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type listeningEvent struct {
	Type string `json:"type"`
}

type analyzingEvent struct {
	Type string `json:"type"`
}

type transcriptEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

type questionAudioEvent struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk"`
}

type resultEvent struct {
	Type       string  `json:"type"`
	Mood       string  `json:"mood"`
	Confidence float64 `json:"confidence"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// QuestionEvent announces the question text after its audio was sent.
func QuestionEvent(text string) any {
	return questionEvent{Type: "question", Text: text}
}

// ListeningEvent tells the client the agent is waiting for speech.
func ListeningEvent() any {
	return listeningEvent{Type: "listening"}
}

// AnalyzingEvent tells the client the answer is being analyzed.
func AnalyzingEvent() any {
	return analyzingEvent{Type: "analyzing"}
}

// TranscriptEvent relays a partial or final transcript fragment.
func TranscriptEvent(text string, isFinal bool) any {
	return transcriptEvent{Type: "transcript", Transcript: text, IsFinal: isFinal}
}

// QuestionAudioEvent carries one base64 chunk of synthesized question audio.
func QuestionAudioEvent(chunk string) any {
	return questionAudioEvent{Type: "question_audio_base_64", Chunk: chunk}
}

// ResultEvent carries the final mood estimate.
func ResultEvent(mood string, confidence float64) any {
	return resultEvent{Type: "result", Mood: mood, Confidence: confidence}
}

// ErrorEvent reports a fatal session error to the client.
func ErrorEvent(message string) any {
	return errorEvent{Type: "error", Message: message}
}

// PlaybackFinishedType is the client acknowledgment that question audio
// finished playing.
const PlaybackFinishedType = "audio_playback_finished"

// ClientMessage is the JSON shape of client text frames.
type ClientMessage struct {
	Type string `json:"type"`
}
