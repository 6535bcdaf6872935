package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// stateDocID is the fixed _id of the single document holding the state.
// One monitor, one feed, one document.
const stateDocID = "feedstalk-state"

// stateDoc is the MongoDB document shape. The retention state travels as a
// JSON blob so the wire format matches the file backend byte for byte.
type stateDoc struct {
	ID      string    `bson:"_id"`
	Blob    string    `bson:"blob"`
	SavedAt time.Time `bson:"saved_at"`
}

// MongoStore persists the retention state as a single MongoDB document,
// replaced wholesale on every save.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoStore connects to MongoDB and prepares the state collection.
func NewMongoStore(uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_store"),
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) Load() (*types.RetentionState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc stateDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": stateDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, &types.StoreError{Backend: s.Name(), Op: "load", Err: err}
	}

	var state types.RetentionState
	if err := json.Unmarshal([]byte(doc.Blob), &state); err != nil {
		return nil, &types.StoreError{
			Backend: s.Name(),
			Op:      "load",
			Err:     fmt.Errorf("%w: %v", types.ErrStateCorrupt, err),
		}
	}
	return &state, nil
}

func (s *MongoStore) Save(state types.RetentionState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc := stateDoc{ID: stateDocID, Blob: string(blob), SavedAt: time.Now()}
	_, err = s.collection.ReplaceOne(ctx,
		bson.M{"_id": stateDocID},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}

	s.logger.Debug("state saved", "posts", len(state.Posts))
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
