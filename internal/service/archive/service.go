// Package archive persists finished probing sessions and standalone
// transcriptions. Archival is best effort: failures are logged, never
// surfaced to the client mid-session.
package archive

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
	"github.com/moodwheel/agent/backend/internal/service/speech"
)

// defaultTimeout bounds one background archival attempt.
const defaultTimeout = 30 * time.Second

// Service archives sessions asynchronously and serves record queries.
type Service struct {
	store   Store
	timeout time.Duration

	// wg lets tests wait for in-flight archival.
	wg sync.WaitGroup
}

// NewService creates an archive service over the given store. A nil
// store disables archival; all writes become no-ops.
func NewService(store Store) *Service {
	return &Service{store: store, timeout: defaultTimeout}
}

// Enabled reports whether a store is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.store != nil
}

// FinalizeSession archives a finished session in the background. Called
// on every session exit path; sessions without captured audio are
// skipped like any other empty recording.
func (s *Service) FinalizeSession(session *agentmodel.Session) {
	if !s.Enabled() || session == nil {
		return
	}

	snap := session.Snapshot()
	if snap.AudioBytes == 0 {
		log.Printf("[archive] session=%s has no audio, skipping", snap.ID)
		return
	}
	audio := session.AudioCopy()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.archiveSession(ctx, snap, audio); err != nil {
			log.Printf("[archive] session=%s archival failed: %v", snap.ID, err)
			return
		}
		log.Printf("[archive] session=%s archived (%d turns, %d audio bytes)",
			snap.ID, len(snap.Turns), len(audio))
	}()
}

func (s *Service) archiveSession(ctx context.Context, snap agentmodel.SessionSnapshot, audio []byte) error {
	wav := WAVFromPCM(audio)
	compressed, err := speech.CompressPayload(wav, speech.GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress session audio: %w", err)
	}

	name := fmt.Sprintf("%s-%s.wav.gz", snap.ID, snap.CreatedAt.Format("20060102T150405"))
	audioRef, err := s.store.SaveAudio(ctx, name, compressed)
	if err != nil {
		return err
	}

	record := &agentmodel.SessionRecord{
		SessionID:       snap.ID,
		CreatedAt:       snap.CreatedAt,
		ArchivedAt:      time.Now(),
		Turns:           snap.Turns,
		FinalMood:       snap.Mood,
		FinalConfidence: snap.Confidence,
		FinalDepth:      snap.Depth,
		QuestionCount:   snap.QuestionCount,
		StopReason:      string(snap.StopReason),
		AudioRef:        audioRef,
		AudioBytes:      len(audio),
	}
	return s.store.SaveSessionRecord(ctx, record)
}

// ArchiveTranscript stores one standalone transcription with its source
// audio.
func (s *Service) ArchiveTranscript(ctx context.Context, record *agentmodel.TranscriptRecord, audio []byte) error {
	if !s.Enabled() {
		return fmt.Errorf("archive is not configured")
	}

	if len(audio) > 0 {
		compressed, err := speech.CompressPayload(audio, speech.GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress transcript audio: %w", err)
		}
		name := fmt.Sprintf("transcript-%s.wav.gz", record.RecordID)
		audioRef, err := s.store.SaveAudio(ctx, name, compressed)
		if err != nil {
			return err
		}
		record.AudioRef = audioRef
		record.AudioBytes = len(audio)
	}

	return s.store.SaveTranscriptRecord(ctx, record)
}

// ListSessionRecords returns the newest archived sessions.
func (s *Service) ListSessionRecords(ctx context.Context, limit int64) ([]agentmodel.SessionRecord, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("archive is not configured")
	}
	return s.store.ListSessionRecords(ctx, limit)
}

// GetSessionRecord looks up one archived session; nil when absent.
func (s *Service) GetSessionRecord(ctx context.Context, sessionID string) (*agentmodel.SessionRecord, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("archive is not configured")
	}
	return s.store.GetSessionRecord(ctx, sessionID)
}

// Wait blocks until background archival finishes. Used by shutdown and
// tests.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
