package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

const mongoCollection = "items"

type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(connString string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(connString))
	if err != nil {
		return nil, err
	}

	dbName := "cellindex"
	if cs, err := connstring.ParseAndValidate(connString); err == nil && cs.Database != "" {
		dbName = cs.Database
	}

	return &MongoStore{db: client.Database(dbName)}, nil
}

type mongoItem struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

func (s *MongoStore) HasItem(ctx context.Context, key string) (bool, error) {
	n, err := s.db.Collection(mongoCollection).CountDocuments(ctx, bson.M{"_id": key})
	return n > 0, err
}

func (s *MongoStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	var doc mongoItem
	err := s.db.Collection(mongoCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

// SetItem upserts the whole document, which mongodb applies atomically.
func (s *MongoStore) SetItem(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Collection(mongoCollection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.Collection(mongoCollection).DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (s *MongoStore) Close() error {
	if s.db != nil {
		return s.db.Client().Disconnect(context.Background())
	}
	return nil
}
