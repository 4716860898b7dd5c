package archive

import (
	"bytes"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
)

const (
	sessionCollection    = "agent_sessions"
	transcriptCollection = "transcriptions"
)

// Store persists finished sessions, standalone transcriptions and their
// audio blobs.
type Store interface {
	SaveSessionRecord(ctx context.Context, record *agentmodel.SessionRecord) error
	SaveTranscriptRecord(ctx context.Context, record *agentmodel.TranscriptRecord) error
	SaveAudio(ctx context.Context, name string, data []byte) (string, error)
	ListSessionRecords(ctx context.Context, limit int64) ([]agentmodel.SessionRecord, error)
	GetSessionRecord(ctx context.Context, sessionID string) (*agentmodel.SessionRecord, error)
}

// MongoStore keeps records as documents and audio in a GridFS bucket.
type MongoStore struct {
	db     *mongo.Database
	bucket *gridfs.Bucket
}

// NewMongoStore creates the store and its GridFS bucket.
func NewMongoStore(db *mongo.Database, bucketName string) (*MongoStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to create audio bucket: %w", err)
	}
	return &MongoStore{db: db, bucket: bucket}, nil
}

// SaveSessionRecord inserts one archived session document.
func (s *MongoStore) SaveSessionRecord(ctx context.Context, record *agentmodel.SessionRecord) error {
	if _, err := s.db.Collection(sessionCollection).InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert session record: %w", err)
	}
	return nil
}

// SaveTranscriptRecord inserts one standalone transcription document.
func (s *MongoStore) SaveTranscriptRecord(ctx context.Context, record *agentmodel.TranscriptRecord) error {
	if _, err := s.db.Collection(transcriptCollection).InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert transcript record: %w", err)
	}
	return nil
}

// SaveAudio uploads an audio blob to GridFS and returns its object id
// as the audio reference.
func (s *MongoStore) SaveAudio(ctx context.Context, name string, data []byte) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.bucket.SetWriteDeadline(deadline)
	}

	id, err := s.bucket.UploadFromStream(name, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to upload audio %s: %w", name, err)
	}
	return id.Hex(), nil
}

// ListSessionRecords returns the newest archived sessions.
func (s *MongoStore) ListSessionRecords(ctx context.Context, limit int64) ([]agentmodel.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.db.Collection(sessionCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query session records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []agentmodel.SessionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session records: %w", err)
	}
	return records, nil
}

// GetSessionRecord looks up one archived session by its session id.
func (s *MongoStore) GetSessionRecord(ctx context.Context, sessionID string) (*agentmodel.SessionRecord, error) {
	var record agentmodel.SessionRecord
	err := s.db.Collection(sessionCollection).
		FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}).
		Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	return &record, nil
}
