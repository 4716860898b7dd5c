package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

const (
	asrStreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

	// closeGrace bounds how long teardown waits for the audio sender to
	// acknowledge cancellation before the socket is closed underneath it.
	closeGrace = 2 * time.Second
)

// SubsessionState tracks a recognition subsession through its lifecycle.
type SubsessionState int32

const (
	SubsessionConnecting SubsessionState = iota
	SubsessionStreaming
	SubsessionAnswerComplete
	SubsessionFailed
)

func (s SubsessionState) String() string {
	switch s {
	case SubsessionConnecting:
		return "connecting"
	case SubsessionStreaming:
		return "streaming"
	case SubsessionAnswerComplete:
		return "answer_complete"
	case SubsessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TranscriptSink receives partial and final transcript events as they
// arrive from the recognizer.
type TranscriptSink func(event speechmodel.TranscriptEvent)

// streamConn is the subset of *websocket.Conn the recognizer needs,
// kept narrow so tests can substitute a fake.
type streamConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// streamOpenRequest is the JSON body of the opening frame, shaped per
// the vendor's streaming ASR API.
type streamOpenRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName         string `json:"model_name"`
		EnableITN         bool   `json:"enable_itn,omitempty"`
		EnablePunc        bool   `json:"enable_punc,omitempty"`
		ShowUtterances    bool   `json:"show_utterances,omitempty"`
		ResultType        string `json:"result_type,omitempty"`
		EndWindowSize     int    `json:"end_window_size,omitempty"`
		ForceToSpeechTime int    `json:"force_to_speech_time,omitempty"`
	} `json:"request"`
}

// streamServerMessage is the JSON body of a FullServerResponse frame.
type streamServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text      string `json:"text"`
			StartTime int64  `json:"start_time"`
			EndTime   int64  `json:"end_time"`
			Definite  bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// RecognizerClient opens streaming recognition sessions against the
// vendor websocket API.
type RecognizerClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer

	// maxStreamAge bounds one continuous stream generation before it is
	// rotated onto a fresh connection.
	maxStreamAge time.Duration
	// flushWait bounds how long rotation waits for the sender to drain
	// and for trailing results after the last-packet marker.
	flushWait time.Duration
	// openStream creates one generation's subsession; tests swap in a
	// fake transport here.
	openStream func(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) (*Subsession, error)
}

// NewRecognizerClient creates a streaming recognizer client.
func NewRecognizerClient(config *speechmodel.SpeechConfig) *RecognizerClient {
	c := &RecognizerClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		maxStreamAge: streamMaxAge,
		flushWait:    rotateFlushWait,
	}
	c.openStream = c.OpenSubsession
	return c
}

// Subsession is one turn's worth of streaming recognition. Audio chunks
// flow in through the channel handed to OpenSubsession; transcript
// events flow out through the sink. The first definite utterance marks
// the answer complete.
type Subsession struct {
	sessionID string
	conn      streamConn
	cancel    context.CancelFunc
	sink      TranscriptSink

	state atomic.Int32

	ready      chan struct{}
	failed     chan struct{}
	senderDone chan struct{}
	recvDone   chan struct{}

	readyOnce  sync.Once
	failedOnce sync.Once

	mu        sync.Mutex
	fragments []string
	err       error
}

// OpenSubsession dials the recognizer, sends the stream configuration
// and starts forwarding audio from the channel. The returned subsession
// is already streaming; callers wait on Ready or Failed.
func (c *RecognizerClient) OpenSubsession(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) (*Subsession, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")
	header.Set("X-Api-Connect-Id", sessionID)

	conn, resp, err := c.dialer.DialContext(ctx, asrStreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR stream: %w", err)
	}

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[recognizer] connected session=%s logid=%s", sessionID, logid)
	}

	sub, err := startSubsession(ctx, conn, c.buildStreamConfig(), sessionID, audio, sink)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sub, nil
}

func (c *RecognizerClient) buildStreamConfig() speechmodel.StreamConfig {
	cfg := speechmodel.StreamConfig{
		Model:      c.config.ASRModel,
		Format:     "raw",
		SampleRate: speechmodel.SampleRate,
		Bits:       speechmodel.SampleBits,
		Channels:   speechmodel.ChannelCount,
		Language:   c.config.ASRLanguage,
		VAD:        speechmodel.DefaultVADConfig(),
	}
	if cfg.Model == "" {
		cfg.Model = "bigmodel"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return cfg
}

// startSubsession sends the opening config frame on an established
// connection and spawns the sender and receiver loops.
func startSubsession(ctx context.Context, conn streamConn, cfg speechmodel.StreamConfig, sessionID string, audio <-chan []byte, sink TranscriptSink) (*Subsession, error) {
	sub := &Subsession{
		sessionID:  sessionID,
		conn:       conn,
		sink:       sink,
		ready:      make(chan struct{}),
		failed:     make(chan struct{}),
		senderDone: make(chan struct{}),
		recvDone:   make(chan struct{}),
	}
	sub.state.Store(int32(SubsessionConnecting))

	if err := sub.sendOpenFrame(cfg); err != nil {
		return nil, err
	}
	sub.state.Store(int32(SubsessionStreaming))

	ctx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	go sub.sendLoop(ctx, audio)
	go sub.recvLoop()

	return sub, nil
}

func (s *Subsession) sendOpenFrame(cfg speechmodel.StreamConfig) error {
	req := &streamOpenRequest{}
	req.User.UID = s.sessionID
	req.Audio.Format = cfg.Format
	req.Audio.Codec = "raw"
	req.Audio.Rate = cfg.SampleRate
	req.Audio.Bits = cfg.Bits
	req.Audio.Channel = cfg.Channels
	req.Audio.Language = cfg.Language
	req.Request.ModelName = cfg.Model
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = int(cfg.VAD.SilenceThresholdSecs * 1000)
	req.Request.ForceToSpeechTime = cfg.VAD.MinSpeechDurationMs

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal stream config: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress stream config: %w", err)
	}

	frame, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode stream config: %w", err)
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send stream config: %w", err)
	}
	return nil
}

// sendLoop forwards audio chunks until the context is cancelled or the
// channel closes. Channel close means no more audio for this turn, so
// the last-packet marker is sent to flush the recognizer.
func (s *Subsession) sendLoop(ctx context.Context, audio <-chan []byte) {
	defer close(s.senderDone)

	sequence := int32(2) // sequence 1 is the config frame
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-audio:
			if !ok {
				if err := s.writeAudioFrame(nil, sequence, true); err != nil {
					s.fail(fmt.Errorf("failed to send last packet: %w", err))
				}
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := s.writeAudioFrame(chunk, sequence, false); err != nil {
				s.fail(fmt.Errorf("failed to send audio chunk: %w", err))
				return
			}
			sequence++
		}
	}
}

func (s *Subsession) writeAudioFrame(chunk []byte, sequence int32, isLast bool) error {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return err
	}
	frame, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, isLast, GzipCompression))
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// recvLoop consumes server frames until the socket closes. Definite
// utterances are appended to the answer and complete the turn.
func (s *Subsession) recvLoop() {
	defer close(s.recvDone)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// A read error after the answer completed is the expected
			// outcome of teardown closing the socket.
			if s.State() != SubsessionAnswerComplete {
				s.fail(fmt.Errorf("recognizer stream closed: %w", err))
			}
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			s.fail(fmt.Errorf("failed to decode recognizer frame: %w", err))
			return
		}

		if msg.IsErrorMessage() {
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				s.fail(fmt.Errorf("recognizer error %d (payload decode failed: %v)", msg.ErrorCode, derr))
			} else {
				s.fail(fmt.Errorf("recognizer error %d: %s", msg.ErrorCode, string(payload)))
			}
			return
		}

		if msg.Header.MessageType != FullServerResponse {
			continue
		}

		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			s.fail(fmt.Errorf("failed to decompress recognizer payload: %w", err))
			return
		}

		var serverMsg streamServerMessage
		if err := json.Unmarshal(payload, &serverMsg); err != nil {
			log.Printf("[recognizer] session=%s unmarshal failed: %v", s.sessionID, err)
			continue
		}

		if serverMsg.Code != 0 && serverMsg.Code != 20000000 {
			s.fail(fmt.Errorf("recognizer API error %d: %s", serverMsg.Code, serverMsg.Message))
			return
		}

		s.handleResult(&serverMsg)
	}
}

func (s *Subsession) handleResult(msg *streamServerMessage) {
	if len(msg.Result.Utterances) == 0 {
		if text := msg.Result.Text; strings.TrimSpace(text) != "" {
			s.emit(text, false)
		}
		return
	}

	for _, u := range msg.Result.Utterances {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		if u.Definite {
			s.mu.Lock()
			s.fragments = append(s.fragments, u.Text)
			s.mu.Unlock()
			s.emit(u.Text, true)
			s.markReady()
		} else {
			s.emit(u.Text, false)
		}
	}
}

func (s *Subsession) emit(text string, isFinal bool) {
	if s.sink == nil {
		return
	}
	s.sink(speechmodel.TranscriptEvent{
		SessionID: s.sessionID,
		Text:      text,
		IsFinal:   isFinal,
	})
}

func (s *Subsession) markReady() {
	s.readyOnce.Do(func() {
		s.state.Store(int32(SubsessionAnswerComplete))
		close(s.ready)
	})
}

func (s *Subsession) fail(err error) {
	s.failedOnce.Do(func() {
		s.state.Store(int32(SubsessionFailed))
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.failed)
	})
}

// Ready is closed once a definite utterance has been received.
func (s *Subsession) Ready() <-chan struct{} { return s.ready }

// Failed is closed when the subsession hits an unrecoverable error.
func (s *Subsession) Failed() <-chan struct{} { return s.failed }

// State returns the current lifecycle state.
func (s *Subsession) State() SubsessionState {
	return SubsessionState(s.state.Load())
}

// Answer returns the definite utterances received so far, concatenated
// in arrival order.
func (s *Subsession) Answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.fragments, "")
}

// Err returns the failure cause, if any.
func (s *Subsession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the sender, waits briefly for it to acknowledge, then
// closes the socket. Safe to call more than once.
func (s *Subsession) Close() {
	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.senderDone:
	case <-time.After(closeGrace):
		log.Printf("[recognizer] session=%s sender did not stop within grace period", s.sessionID)
	}

	s.conn.Close()

	select {
	case <-s.recvDone:
	case <-time.After(closeGrace):
	}
}
