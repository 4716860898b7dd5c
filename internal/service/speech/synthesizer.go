package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

const ttsStreamURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// AudioChunkSink receives synthesized audio chunk by chunk as the vendor
// produces them. Returning an error aborts the synthesis.
type AudioChunkSink func(chunk []byte) error

// SynthesizerClient synthesizes speech over the vendor websocket API.
type SynthesizerClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
}

// NewSynthesizerClient creates a streaming TTS client.
func NewSynthesizerClient(config *speechmodel.SpeechConfig) *SynthesizerClient {
	return &SynthesizerClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// SynthesizeStream synthesizes the request text and hands each audio
// chunk to the sink as it arrives. The returned response carries
// metadata but no buffered audio.
func (c *SynthesizerClient) SynthesizeStream(ctx context.Context, req *speechmodel.TTSRequest, sink AudioChunkSink) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	if sink == nil {
		return nil, fmt.Errorf("TTS chunk sink is nil")
	}
	return c.synthesize(ctx, req, sink)
}

// Synthesize synthesizes the request text and returns the complete
// audio buffer.
func (c *SynthesizerClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	var buf bytes.Buffer
	resp, err := c.synthesize(ctx, req, func(chunk []byte) error {
		buf.Write(chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.AudioData = buf.Bytes()
	return resp, nil
}

func (c *SynthesizerClient) synthesize(ctx context.Context, req *speechmodel.TTSRequest, sink AudioChunkSink) (*speechmodel.TTSResponse, error) {
	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speaker := strings.TrimSpace(req.Voice)
	if speaker == "" {
		speaker = strings.TrimSpace(c.config.TTSVoice)
	}

	var lastErr error
	for idx, resourceID := range resolveTTSResourceCandidates(speaker) {
		resp, attemptErr := c.synthesizeWithResource(ctx, req, appKey, accessKey, speaker, encoding, resourceID, sink)
		if attemptErr == nil {
			if idx > 0 {
				log.Printf("[synthesizer] voice %s succeeded with fallback resource %s", speaker, resourceID)
			}
			return resp, nil
		}
		if !isResourceMismatchError(attemptErr) {
			return nil, attemptErr
		}
		log.Printf("[synthesizer] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
		lastErr = attemptErr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("TTS synthesis failed: no compatible resource id for voice %q", speaker)
}

func (c *SynthesizerClient) synthesizeWithResource(
	ctx context.Context,
	req *speechmodel.TTSRequest,
	appKey, accessKey, speaker, encoding, resourceID string,
	sink AudioChunkSink,
) (*speechmodel.TTSResponse, error) {
	connectID := uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, ttsStreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[synthesizer] connected with logid: %s", logid)
		}
	}

	ttsReq, userUID := c.buildRequest(req, speaker, encoding)

	payload, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		reqID      string
		duration   int64
		totalBytes int
	)

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = userUID
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			errPayload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("TTS error message decode failed: %w", derr)
			}
			return nil, fmt.Errorf("TTS error: %s", string(errPayload))

		case AudioOnlyServerResponse:
			chunk, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", derr)
			}
			if len(chunk) > 0 {
				if serr := sink(chunk); serr != nil {
					return nil, fmt.Errorf("audio sink rejected chunk: %w", serr)
				}
				totalBytes += len(chunk)
			}

		case FullServerResponse:
			respPayload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("failed to decompress TTS response payload: %w", derr)
			}

			var serverMsg ttsServerMessage
			if len(respPayload) > 0 {
				if uerr := json.Unmarshal(respPayload, &serverMsg); uerr != nil {
					log.Printf("[synthesizer] failed to unmarshal response payload: %v", uerr)
				} else {
					if serverMsg.Code != 0 && serverMsg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverMsg.Code, serverMsg.Message)
					}
					if serverMsg.ReqID != "" {
						reqID = serverMsg.ReqID
					}
					if serverMsg.Addition.Duration != "" {
						if parsed, perr := strconv.ParseInt(serverMsg.Addition.Duration, 10, 64); perr == nil {
							duration = parsed
						}
					}
					if serverMsg.Data != "" {
						chunk, berr := base64.StdEncoding.DecodeString(serverMsg.Data)
						if berr != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", berr)
						}
						if serr := sink(chunk); serr != nil {
							return nil, fmt.Errorf("audio sink rejected chunk: %w", serr)
						}
						totalBytes += len(chunk)
					}
				}
			}

			finalizedByEvent := msg.Header.MessageFlags == WithEvent && msg.EventType == EventTypeSessionFinished
			finalizedBySequence := msg.IsLastPacket() || serverMsg.Sequence < 0

			if finalizedByEvent || finalizedBySequence {
				if totalBytes == 0 {
					return nil, fmt.Errorf("TTS audio is empty")
				}
				if reqID == "" {
					reqID = connectID
				}
				return &speechmodel.TTSResponse{
					SessionID: sessionID,
					Duration:  duration,
					Format:    encoding,
					RequestID: reqID,
					CreatedAt: time.Now(),
				}, nil
			}

		default:
			log.Printf("[synthesizer] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func (c *SynthesizerClient) buildRequest(req *speechmodel.TTSRequest, speaker, encoding string) (*ttsRequest, string) {
	out := &ttsRequest{}

	userUID := strings.TrimSpace(req.SessionID)
	if userUID == "" {
		userUID = uuid.New().String()
	}
	out.User.UID = userUID

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams.Format = encoding
	out.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 && c.config.TTSSpeed > 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 && c.config.TTSVolume > 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	if language := strings.TrimSpace(req.Language); language != "" {
		out.ReqParams.Language = language
	}

	return out, userUID
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}

	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "jupiter", "venus", "uranus"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}

	return []string{defaultResource, seedResource}
}

func isResourceMismatchError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
