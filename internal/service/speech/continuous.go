package speech

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	// streamMaxAge is how long a single vendor stream may live before it
	// is rotated onto a fresh connection. The vendor tears down long
	// streams on its side, so we rotate first.
	streamMaxAge = 240 * time.Second

	// rotateFlushWait bounds how long rotation waits for trailing finals
	// after the last-packet marker is sent.
	rotateFlushWait = 3 * time.Second

	// genAudioBuffer is the per-generation forwarding buffer.
	genAudioBuffer = 16
)

// RunContinuous keeps a recognition stream open for the life of the
// context, transparently rotating the underlying vendor connection when
// it reaches streamMaxAge. The stream configuration frame is re-sent on
// every rotation and no audio chunk is lost or duplicated across the
// boundary. Returns nil when the audio channel closes.
func (c *RecognizerClient) RunContinuous(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) error {
	var pending []byte
	generation := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		generation++
		next, err := c.runGeneration(ctx, sessionID, generation, audio, pending, sink)
		pending = next.pending
		if err != nil {
			return err
		}
		if next.exhausted {
			return nil
		}
		log.Printf("[recognizer] session=%s rotating stream generation=%d", sessionID, generation)
	}
}

type generationOutcome struct {
	// pending is a chunk read from the caller but not yet forwarded when
	// rotation fired; it is delivered first on the next generation.
	pending []byte
	// exhausted is true when the caller closed the audio channel.
	exhausted bool
}

func (c *RecognizerClient) runGeneration(ctx context.Context, sessionID string, generation int, audio <-chan []byte, carried []byte, sink TranscriptSink) (generationOutcome, error) {
	genAudio := make(chan []byte, genAudioBuffer)

	sub, err := c.openStream(ctx, fmt.Sprintf("%s-%d", sessionID, generation), genAudio, sink)
	if err != nil {
		return generationOutcome{pending: carried}, err
	}

	if carried != nil {
		select {
		case genAudio <- carried:
		case <-sub.Failed():
			sub.Close()
			return generationOutcome{pending: carried}, sub.Err()
		case <-ctx.Done():
			sub.Close()
			return generationOutcome{}, ctx.Err()
		}
	}

	timer := time.NewTimer(c.maxStreamAge)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			close(genAudio)
			sub.Close()
			return generationOutcome{}, ctx.Err()

		case <-timer.C:
			c.flushGeneration(sub, genAudio)
			return generationOutcome{}, nil

		case <-sub.Failed():
			sub.Close()
			return generationOutcome{}, sub.Err()

		case chunk, ok := <-audio:
			if !ok {
				c.flushGeneration(sub, genAudio)
				return generationOutcome{exhausted: true}, nil
			}
			select {
			case genAudio <- chunk:
			case <-timer.C:
				// Rotation fired while this chunk was in hand; carry it
				// to the next generation instead of dropping it.
				c.flushGeneration(sub, genAudio)
				return generationOutcome{pending: chunk}, nil
			case <-sub.Failed():
				sub.Close()
				return generationOutcome{}, sub.Err()
			case <-ctx.Done():
				sub.Close()
				return generationOutcome{}, ctx.Err()
			}
		}
	}
}

// flushGeneration closes the forwarding channel so the sender emits the
// last-packet marker, waits briefly for trailing results, then tears the
// subsession down.
func (c *RecognizerClient) flushGeneration(sub *Subsession, genAudio chan []byte) {
	close(genAudio)

	// The sender must drain any buffered chunks before the subsession is
	// cancelled, or they would never reach the recognizer.
	select {
	case <-sub.senderDone:
	case <-time.After(c.flushWait):
	}

	select {
	case <-sub.recvDone:
	case <-sub.failed:
	case <-time.After(c.flushWait):
	}

	sub.Close()
}
