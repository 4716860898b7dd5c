// Package agent drives a bounded voice probing session: it asks a
// question, listens for the spoken answer, maps it onto the wheel of
// emotions and decides whether to stop or probe one level deeper.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/moodwheel/agent/backend/internal/analysis/emotion"
	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	"github.com/moodwheel/agent/backend/internal/service/inference"
)

// EventSink delivers one server event to the client. A returned error
// means the client is unreachable and the session should wind down.
type EventSink func(event any) error

// AnswerListener runs one turn of streaming recognition, relaying
// transcript fragments as they arrive, and returns the completed answer
// once the recognizer observes end of speech.
type AnswerListener interface {
	Listen(ctx context.Context, sessionID string, audio <-chan []byte, onTranscript func(text string, isFinal bool)) (string, error)
}

// QuestionSpeaker synthesizes question audio and hands it out chunk by
// chunk for relay to the client.
type QuestionSpeaker interface {
	Speak(ctx context.Context, sessionID, text string, emit func(chunk []byte) error) error
}

// Finalizer archives a finished session. Implementations must not block
// the caller on storage latency.
type Finalizer interface {
	FinalizeSession(session *agentmodel.Session)
}

// Config bounds a probing session.
type Config struct {
	MaxQuestions        int
	MaxDepth            int
	ConfidenceThreshold float64
	PlaybackAckTimeout  time.Duration
	Greeting            string
}

// Controller owns one probing session end to end.
type Controller struct {
	cfg       Config
	speaker   QuestionSpeaker
	listener  AnswerListener
	analyzer  inference.MoodAnalyzer
	planner   inference.QuestionPlanner
	finalizer Finalizer
	sink      EventSink
	wheel     emotion.Wheel

	session     *agentmodel.Session
	queue       *AudioQueue
	playbackAck chan struct{}
}

// NewController creates a controller for a fresh session.
func NewController(
	sessionID string,
	cfg Config,
	speaker QuestionSpeaker,
	listener AnswerListener,
	analyzer inference.MoodAnalyzer,
	planner inference.QuestionPlanner,
	finalizer Finalizer,
	sink EventSink,
) *Controller {
	return &Controller{
		cfg:         cfg,
		speaker:     speaker,
		listener:    listener,
		analyzer:    analyzer,
		planner:     planner,
		finalizer:   finalizer,
		sink:        sink,
		wheel:       emotion.GetWheel(),
		session:     agentmodel.NewSession(sessionID),
		queue:       NewAudioQueue(),
		playbackAck: make(chan struct{}, 1),
	}
}

// Session exposes the session state, mainly for liveness reporting.
func (c *Controller) Session() *agentmodel.Session {
	return c.session
}

// HandleAudio ingests one binary audio frame from the client. Safe to
// call from the websocket read loop while Run is in progress.
func (c *Controller) HandleAudio(chunk []byte) {
	c.session.AppendAudio(chunk)
	c.queue.Push(chunk)
}

// HandlePlaybackFinished records the client's playback acknowledgment.
func (c *Controller) HandlePlaybackFinished() {
	select {
	case c.playbackAck <- struct{}{}:
	default:
	}
}

// Run executes the turn loop until a stop condition, an error or a
// disconnect. The session is archived on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	defer c.queue.Close()
	defer c.archive()

	for {
		if c.session.QuestionCount > 0 &&
			c.session.Confidence >= c.cfg.ConfidenceThreshold &&
			c.session.Depth >= c.cfg.MaxDepth {
			c.session.SetStopReason(agentmodel.StoppedHighConfidence)
			break
		}
		if c.session.QuestionCount >= c.cfg.MaxQuestions {
			c.session.SetStopReason(agentmodel.StoppedMaxTurns)
			break
		}

		question, err := c.nextQuestion(ctx)
		if err != nil {
			return c.abort(ctx, err)
		}

		log.Printf("[agent] session=%s question %d: %s", c.session.ID, c.session.QuestionCount+1, question)

		if err := c.askQuestion(ctx, question); err != nil {
			return c.abort(ctx, err)
		}

		c.waitForPlayback(ctx)
		if ctx.Err() != nil {
			c.session.SetStopReason(agentmodel.AbortedDisconnect)
			return ctx.Err()
		}

		c.queue.Drain()
		if err := c.sink(ListeningEvent()); err != nil {
			c.session.SetStopReason(agentmodel.AbortedDisconnect)
			return err
		}

		answer, err := c.listener.Listen(ctx, c.session.ID, c.queue.Out(), func(text string, isFinal bool) {
			if serr := c.sink(TranscriptEvent(text, isFinal)); serr != nil {
				log.Printf("[agent] session=%s transcript relay failed: %v", c.session.ID, serr)
			}
		})
		if err != nil {
			return c.abort(ctx, fmt.Errorf("listening failed: %w", err))
		}

		log.Printf("[agent] session=%s answer: %s", c.session.ID, answer)

		if err := c.sink(AnalyzingEvent()); err != nil {
			c.session.SetStopReason(agentmodel.AbortedDisconnect)
			return err
		}

		result, err := c.analyzer.AnalyzeMood(ctx, c.session.Turns, question, answer)
		if err != nil {
			return c.abort(ctx, err)
		}

		depth := c.wheel.Depth(result.Mood)
		log.Printf("[agent] session=%s mood=%s (%s level) confidence=%.2f",
			c.session.ID, result.Mood, emotion.DepthName(depth), result.Confidence)

		c.session.CompleteTurn(agentmodel.Turn{
			Question:   question,
			Answer:     answer,
			Mood:       result.Mood,
			Confidence: result.Confidence,
			Depth:      depth,
		})
	}

	// Both stop branches report the best estimate the same way, even
	// when the confidence target was never reached.
	if err := c.sink(ResultEvent(c.session.Mood, c.session.Confidence)); err != nil {
		c.session.SetStopReason(agentmodel.AbortedDisconnect)
		return err
	}
	return nil
}

func (c *Controller) nextQuestion(ctx context.Context) (string, error) {
	if c.session.QuestionCount == 0 {
		return c.cfg.Greeting, nil
	}
	return c.planner.NextQuestion(ctx, c.session.Turns, c.session.Depth, c.cfg.MaxDepth)
}

// askQuestion streams the synthesized audio first, then announces the
// question text, matching the order the frontend expects.
func (c *Controller) askQuestion(ctx context.Context, question string) error {
	if c.speaker != nil {
		err := c.speaker.Speak(ctx, c.session.ID, question, func(chunk []byte) error {
			encoded := base64.StdEncoding.EncodeToString(chunk)
			return c.sink(QuestionAudioEvent(encoded))
		})
		if err != nil {
			return fmt.Errorf("question synthesis failed: %w", err)
		}
	}
	return c.sink(QuestionEvent(question))
}

// waitForPlayback blocks until the client acknowledges playback, the
// ack timeout expires, or the session context ends. Timing out is not
// an error; the turn proceeds to listening.
func (c *Controller) waitForPlayback(ctx context.Context) {
	select {
	case <-c.playbackAck:
	case <-time.After(c.cfg.PlaybackAckTimeout):
		log.Printf("[agent] session=%s timed out waiting for playback ack", c.session.ID)
	case <-ctx.Done():
	}
}

// abort ends the session after a fatal error. Disconnects finalize
// silently; everything else is reported to the client best-effort.
func (c *Controller) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		c.session.SetStopReason(agentmodel.AbortedDisconnect)
		return ctx.Err()
	}

	c.session.SetStopReason(agentmodel.AbortedError)
	log.Printf("[agent] session=%s aborted: %v", c.session.ID, err)
	if serr := c.sink(ErrorEvent(err.Error())); serr != nil {
		log.Printf("[agent] session=%s error event not delivered: %v", c.session.ID, serr)
	}
	return err
}

// archive hands the session to the finalizer, complete or not. A
// session with no turns but captured audio is still worth keeping.
func (c *Controller) archive() {
	if c.finalizer == nil {
		return
	}
	c.finalizer.FinalizeSession(c.session)
}
