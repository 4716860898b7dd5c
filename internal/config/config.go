package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every runtime setting of the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	Agent   AgentConfig
	Archive ArchiveConfig
}

// Load reads the whole configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	archive, err := loadArchiveConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Speech: speech, Agent: agent, Archive: archive}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" and "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat-model backend used for mood inference and
// question planning.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: set ARK_API_KEY + MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig describes the recognition/synthesis vendor.
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	BaseURL     string
	ASRModel    string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		APIKey:      apiKey,
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRModel:    getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

// AgentConfig tunes the probing dialogue loop.
type AgentConfig struct {
	MaxQuestions        int
	MaxDepth            int
	ConfidenceThreshold float64
	PlaybackAckTimeout  time.Duration
	Greeting            string
}

func loadAgentConfig() (AgentConfig, error) {
	maxQuestions := 5
	if override, err := parseOptionalIntEnv("AGENT_MAX_QUESTIONS"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AgentConfig{}, fmt.Errorf("AGENT_MAX_QUESTIONS must be >= 1, got %d", *override)
		}
		maxQuestions = *override
	}

	maxDepth := 3
	if override, err := parseOptionalIntEnv("AGENT_MAX_DEPTH"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override < 1 || *override > 3 {
			return AgentConfig{}, fmt.Errorf("AGENT_MAX_DEPTH must be 1..3, got %d", *override)
		}
		maxDepth = *override
	}

	threshold := 0.9
	if override, err := parseOptionalFloatEnv("AGENT_CONFIDENCE_THRESHOLD"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		if *override <= 0 || *override > 1 {
			return AgentConfig{}, fmt.Errorf("AGENT_CONFIDENCE_THRESHOLD must be in (0,1], got %f", *override)
		}
		threshold = *override
	}

	ackTimeout := 30 * time.Second
	if override, err := parseOptionalIntEnv("AGENT_PLAYBACK_ACK_TIMEOUT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil {
		ackTimeout = time.Duration(*override) * time.Second
	}

	return AgentConfig{
		MaxQuestions:        maxQuestions,
		MaxDepth:            maxDepth,
		ConfidenceThreshold: threshold,
		PlaybackAckTimeout:  ackTimeout,
		Greeting:            getEnvOrDefault("AGENT_GREETING", "Hello! How are you feeling today?"),
	}, nil
}

// ArchiveConfig describes the MongoDB persistence target.
type ArchiveConfig struct {
	URI         string
	Database    string
	AudioBucket string
	Enabled     bool
}

func loadArchiveConfig() (ArchiveConfig, error) {
	uri := strings.TrimSpace(os.Getenv("MONGO_URI"))
	return ArchiveConfig{
		URI:         uri,
		Database:    getEnvOrDefault("MONGO_DATABASE", "moodagent"),
		AudioBucket: getEnvOrDefault("MONGO_AUDIO_BUCKET", "session_audio"),
		Enabled:     uri != "",
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
