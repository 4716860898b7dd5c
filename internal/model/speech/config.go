package speech

// SpeechConfig carries the vendor credentials and tuning knobs shared by
// the recognition and synthesis clients.
type SpeechConfig struct {
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	APIKey      string `json:"apiKey,omitempty"` // legacy alias for AccessToken
	BaseURL     string `json:"baseUrl"`

	// ASR settings
	ASRModel    string `json:"asrModel"`
	ASRLanguage string `json:"asrLanguage"`

	// TTS settings
	TTSVoice  string  `json:"ttsVoice"`
	TTSSpeed  float32 `json:"ttsSpeed"`
	TTSVolume float32 `json:"ttsVolume"`

	Timeout int `json:"timeout"` // seconds
}

// VADConfig tunes the vendor-side voice activity detection that decides
// when an utterance has ended.
type VADConfig struct {
	SilenceThresholdSecs float64 `json:"vadSilenceThresholdSecs"`
	Threshold            float64 `json:"vadThreshold"`
	MinSpeechDurationMs  int     `json:"minSpeechDurationMs"`
	MinSilenceDurationMs int     `json:"minSilenceDurationMs"`
}

// DefaultVADConfig mirrors the thresholds tuned for conversational
// answers: 1.5s of trailing silence commits the utterance.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SilenceThresholdSecs: 1.5,
		Threshold:            0.4,
		MinSpeechDurationMs:  100,
		MinSilenceDurationMs: 100,
	}
}
