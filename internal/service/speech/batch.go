package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

const asrBatchURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

// batchChunkSize is 200ms of PCM16 mono at 16kHz.
const batchChunkSize = 6400

// Transcribe runs one-shot recognition over a complete audio buffer and
// returns the full transcript. Used for uploaded recordings rather than
// live streams.
func (c *RecognizerClient) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")
	header.Set("X-Api-Connect-Id", req.SessionID)

	conn, resp, err := c.dialer.DialContext(ctx, asrBatchURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR websocket: %w", err)
	}
	defer conn.Close()

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[recognizer] batch session=%s logid=%s", req.SessionID, logid)
	}

	cfg := c.buildStreamConfig()
	if req.Format != "" {
		cfg.Format = req.Format
	}
	if req.Language != "" {
		cfg.Language = req.Language
	}

	openReq := &streamOpenRequest{}
	openReq.User.UID = req.SessionID
	openReq.Audio.Format = cfg.Format
	openReq.Audio.Codec = "raw"
	openReq.Audio.Rate = cfg.SampleRate
	openReq.Audio.Bits = cfg.Bits
	openReq.Audio.Channel = cfg.Channels
	openReq.Audio.Language = cfg.Language
	openReq.Request.ModelName = cfg.Model
	openReq.Request.EnableITN = true
	openReq.Request.EnablePunc = true
	openReq.Request.ShowUtterances = true
	openReq.Request.ResultType = "full"

	payload, err := json.Marshal(openReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}

	frame, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	respCh := make(chan *speechmodel.ASRResponse, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		result, err := receiveBatchResult(conn, req.SessionID)
		if err != nil {
			recvErrCh <- err
			return
		}
		respCh <- result
	}()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- sendBatchAudio(ctx, conn, req.AudioData)
	}()

	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				cancel()
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			// Sending finished; keep waiting for the final result.
		case result := <-respCh:
			cancel()
			return result, nil
		case err := <-recvErrCh:
			cancel()
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func sendBatchAudio(ctx context.Context, conn streamConn, source io.Reader) error {
	audioData, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("failed to read audio source: %w", err)
	}
	if len(audioData) == 0 {
		return fmt.Errorf("no audio data to send")
	}

	sequence := int32(2) // the opening request occupies sequence 1
	for i := 0; i < len(audioData); i += batchChunkSize {
		end := i + batchChunkSize
		if end > len(audioData) {
			end = len(audioData)
		}

		chunk := audioData[i:end]
		isLast := end >= len(audioData)

		compressed, err := CompressPayload(chunk, GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress audio chunk: %w", err)
		}

		frame, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, isLast, GzipCompression))
		if err != nil {
			return fmt.Errorf("failed to encode audio message: %w", err)
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}

		sequence++
		if isLast {
			break
		}

		// Pace the upload like a live stream.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	return nil
}

func receiveBatchResult(conn streamConn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		finalText string
		duration  int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		if msg.IsErrorMessage() {
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				return nil, fmt.Errorf("ASR error %d (decode failed: %v)", msg.ErrorCode, derr)
			}
			return nil, fmt.Errorf("ASR error: %s", string(payload))
		}

		if msg.Header.MessageType != FullServerResponse {
			continue
		}

		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
		}

		var serverMsg streamServerMessage
		if err := json.Unmarshal(payload, &serverMsg); err != nil {
			log.Printf("[recognizer] batch unmarshal failed: %v", err)
			continue
		}

		if serverMsg.Code != 0 && serverMsg.Code != 20000000 {
			return nil, fmt.Errorf("ASR API error %d: %s", serverMsg.Code, serverMsg.Message)
		}

		if text := batchTranscript(&serverMsg); text != "" {
			finalText = text
		}
		if serverMsg.AudioInfo.Duration > 0 {
			duration = serverMsg.AudioInfo.Duration
		}

		if msg.IsLastPacket() || serverMsg.Sequence < 0 {
			if finalText == "" {
				log.Printf("[recognizer] empty transcript for session %s", sessionID)
			}
			return &speechmodel.ASRResponse{
				SessionID:  sessionID,
				Text:       finalText,
				Confidence: estimateConfidence(finalText),
				Duration:   duration,
				RequestID:  sessionID,
				CreatedAt:  time.Now(),
			}, nil
		}
	}
}

func batchTranscript(msg *streamServerMessage) string {
	if msg.Result.Text != "" {
		return msg.Result.Text
	}
	var builder strings.Builder
	for _, u := range msg.Result.Utterances {
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(u.Text)
	}
	return builder.String()
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
