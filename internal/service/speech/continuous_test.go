package speech

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

// rotationHarness fakes the vendor transport so a continuous run can be
// driven through several stream generations.
type rotationHarness struct {
	mu    sync.Mutex
	conns []*fakeStreamConn
}

func (h *rotationHarness) open(ctx context.Context, sessionID string, audio <-chan []byte, sink TranscriptSink) (*Subsession, error) {
	conn := newFakeStreamConn()
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	return startSubsession(ctx, conn, testStreamConfig(), sessionID, audio, sink)
}

func (h *rotationHarness) connections() []*fakeStreamConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*fakeStreamConn, len(h.conns))
	copy(out, h.conns)
	return out
}

// decodeStreamedAudio replays one connection's written frames and
// returns the concatenated audio payloads, plus whether the first frame
// was a configuration request.
func decodeStreamedAudio(t *testing.T, conn *fakeStreamConn) (audio []byte, configFirst bool) {
	t.Helper()

	for i, frame := range conn.writtenFrames() {
		msg, err := DecodeMessage(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}

		if i == 0 {
			configFirst = msg.Header.MessageType == FullClientRequest
			continue
		}

		if msg.Header.MessageType != AudioOnlyRequest {
			t.Fatalf("frame %d: unexpected message type %d", i, msg.Header.MessageType)
		}
		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			t.Fatalf("decompress frame %d: %v", i, err)
		}
		// The last-packet marker carries an empty payload.
		audio = append(audio, payload...)
	}
	return audio, configFirst
}

func TestRunContinuousRotatesWithoutLosingChunks(t *testing.T) {
	harness := &rotationHarness{}
	client := NewRecognizerClient(&speechmodel.SpeechConfig{AppID: "app", AccessToken: "token"})
	client.maxStreamAge = 50 * time.Millisecond
	client.flushWait = 100 * time.Millisecond
	client.openStream = harness.open

	audio := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- client.RunContinuous(context.Background(), "cont-1", audio, nil)
	}()

	const chunkCount = 40
	for i := 0; i < chunkCount; i++ {
		audio <- []byte{byte(i)}
		time.Sleep(5 * time.Millisecond)
	}
	close(audio)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunContinuous failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunContinuous never returned")
	}

	conns := harness.connections()
	if len(conns) < 2 {
		t.Fatalf("expected at least 2 stream generations, got %d", len(conns))
	}

	var received []byte
	for i, conn := range conns {
		chunk, configFirst := decodeStreamedAudio(t, conn)
		if !configFirst {
			t.Fatalf("generation %d did not start with a configuration frame", i+1)
		}
		received = append(received, chunk...)
	}

	if len(received) != chunkCount {
		t.Fatalf("expected %d chunks across generations, got %d", chunkCount, len(received))
	}
	for i, b := range received {
		if b != byte(i) {
			t.Fatalf("chunk %d arrived out of order or duplicated: got %d", i, b)
		}
	}
}

func TestRunContinuousReturnsOnContextCancel(t *testing.T) {
	harness := &rotationHarness{}
	client := NewRecognizerClient(&speechmodel.SpeechConfig{AppID: "app", AccessToken: "token"})
	client.maxStreamAge = time.Minute
	client.flushWait = 100 * time.Millisecond
	client.openStream = harness.open

	ctx, cancel := context.WithCancel(context.Background())
	audio := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- client.RunContinuous(ctx, "cont-2", audio, nil)
	}()

	audio <- []byte{1}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunContinuous never returned after cancel")
	}
}
