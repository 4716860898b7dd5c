package agent

import (
	"log"
	"sync"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

// defaultQueueCapacity holds a few seconds of 200ms audio frames.
const defaultQueueCapacity = 256

// AudioQueue buffers incoming microphone audio between the websocket
// read loop and the recognition subsession. Oversized chunks are split
// to the recognizer's limit, and when the consumer falls behind new
// chunks are dropped rather than blocking the read loop.
type AudioQueue struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// NewAudioQueue creates a queue with the default capacity.
func NewAudioQueue() *AudioQueue {
	return &AudioQueue{ch: make(chan []byte, defaultQueueCapacity)}
}

// Push enqueues one audio chunk, splitting it when it exceeds the
// recognizer's chunk limit.
func (q *AudioQueue) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	for offset := 0; offset < len(chunk); offset += speechmodel.MaxChunkBytes {
		end := offset + speechmodel.MaxChunkBytes
		if end > len(chunk) {
			end = len(chunk)
		}

		piece := make([]byte, end-offset)
		copy(piece, chunk[offset:end])

		select {
		case q.ch <- piece:
		default:
			log.Printf("[agent] audio queue full, dropping %d bytes", len(piece))
			return
		}
	}
}

// Out is the consumer side of the queue.
func (q *AudioQueue) Out() <-chan []byte {
	return q.ch
}

// Drain discards all buffered chunks. Called at each turn boundary so
// a listening window never starts with stale audio.
func (q *AudioQueue) Drain() int {
	dropped := 0
	for {
		select {
		case <-q.ch:
			dropped++
		default:
			if dropped > 0 {
				log.Printf("[agent] drained %d stale audio chunks", dropped)
			}
			return dropped
		}
	}
}

// Close stops the queue; subsequent pushes are ignored.
func (q *AudioQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len reports the number of buffered chunks.
func (q *AudioQueue) Len() int {
	return len(q.ch)
}
