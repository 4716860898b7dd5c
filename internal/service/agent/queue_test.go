package agent

import (
	"testing"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

func TestAudioQueueSplitsOversizedChunks(t *testing.T) {
	q := NewAudioQueue()
	defer q.Close()

	oversized := make([]byte, speechmodel.MaxChunkBytes+100)
	q.Push(oversized)

	if q.Len() != 2 {
		t.Fatalf("expected 2 chunks after split, got %d", q.Len())
	}

	first := <-q.Out()
	if len(first) != speechmodel.MaxChunkBytes {
		t.Fatalf("first chunk should be capped at %d bytes, got %d", speechmodel.MaxChunkBytes, len(first))
	}
	second := <-q.Out()
	if len(second) != 100 {
		t.Fatalf("remainder chunk should be 100 bytes, got %d", len(second))
	}
}

func TestAudioQueueDropsWhenFull(t *testing.T) {
	q := NewAudioQueue()
	defer q.Close()

	for i := 0; i < defaultQueueCapacity+10; i++ {
		q.Push([]byte{byte(i)})
	}

	if q.Len() != defaultQueueCapacity {
		t.Fatalf("expected queue capped at %d, got %d", defaultQueueCapacity, q.Len())
	}
}

func TestAudioQueueDrainEmptiesBuffer(t *testing.T) {
	q := NewAudioQueue()
	defer q.Close()

	q.Push([]byte{1})
	q.Push([]byte{2})
	q.Push([]byte{3})

	if dropped := q.Drain(); dropped != 3 {
		t.Fatalf("expected 3 drained chunks, got %d", dropped)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain, got %d", q.Len())
	}
}

func TestAudioQueueIgnoresPushAfterClose(t *testing.T) {
	q := NewAudioQueue()
	q.Close()
	q.Push([]byte{1}) // must not panic
}

func TestAudioQueueIgnoresEmptyChunks(t *testing.T) {
	q := NewAudioQueue()
	defer q.Close()

	q.Push(nil)
	q.Push([]byte{})

	if q.Len() != 0 {
		t.Fatalf("empty chunks should be ignored, got %d queued", q.Len())
	}
}
