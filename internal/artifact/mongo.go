package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps artifacts as documents keyed by run id and name.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type artifactDoc struct {
	RunID     string `bson:"run_id"`
	Name      string `bson:"name"`
	Data      []byte `bson:"data"`
	UpdatedAt int64  `bson:"updated_at"`
}

// NewMongoStore connects, pings and ensures the unique (run_id, name) index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create artifact index: %w", err)
	}

	return &MongoStore{client: client, collection: coll}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Exists(ctx context.Context, runID, name string) (bool, error) {
	if err := validateKey(runID, name); err != nil {
		return false, err
	}
	n, err := s.collection.CountDocuments(ctx, bson.M{"run_id": runID, "name": name}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count artifacts: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) Read(ctx context.Context, runID, name string) ([]byte, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, err
	}
	var doc artifactDoc
	err := s.collection.FindOne(ctx, bson.M{"run_id": runID, "name": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	return doc.Data, nil
}

func (s *MongoStore) Write(ctx context.Context, runID, name string, data []byte) error {
	if err := validateKey(runID, name); err != nil {
		return err
	}
	filter := bson.M{"run_id": runID, "name": name}
	update := bson.M{"$set": artifactDoc{RunID: runID, Name: name, Data: data, UpdatedAt: time.Now().Unix()}}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}
