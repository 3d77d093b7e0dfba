package metastore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// MongoStore keeps descriptors in one collection keyed by fileName.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore opens the collection and makes sure fileName is uniquely indexed.
func NewMongoStore(ctx context.Context, client *mongo.Client, db *mongo.Database, collection string) (*MongoStore, error) {
	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fileName", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "contextKey", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media indexes: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (m *MongoStore) Get(ctx context.Context, fileName string) (*types.MediaObject, error) {
	var obj types.MediaObject
	err := m.coll.FindOne(ctx, bson.D{{Key: "fileName", Value: fileName}}).Decode(&obj)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NotFoundError("media %s not found", fileName)
	}
	if err != nil {
		return nil, types.StorageUnavailableError("failed to load media descriptor", err)
	}
	return &obj, nil
}

// Put upserts by fileName.
func (m *MongoStore) Put(ctx context.Context, obj *types.MediaObject) error {
	if err := obj.Validate(); err != nil {
		return types.ValidationError("%v", err)
	}
	_, err := m.coll.ReplaceOne(ctx,
		bson.D{{Key: "fileName", Value: obj.FileName}},
		obj,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return types.StorageUnavailableError("failed to save media descriptor", err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, fileName string) error {
	res, err := m.coll.DeleteOne(ctx, bson.D{{Key: "fileName", Value: fileName}})
	if err != nil {
		return types.StorageUnavailableError("failed to delete media descriptor", err)
	}
	tool.DefaultLogger.Debugf("[MetaStore] delete %s removed %d", fileName, res.DeletedCount)
	return nil
}

func (m *MongoStore) ListByContext(ctx context.Context, contextKey string) ([]types.MediaObject, error) {
	cursor, err := m.coll.Find(ctx,
		bson.D{{Key: "contextKey", Value: contextKey}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "fileName", Value: 1}}),
	)
	if err != nil {
		return nil, types.StorageUnavailableError("failed to list media", err)
	}
	out := make([]types.MediaObject, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, types.StorageUnavailableError("failed to decode media list", err)
	}
	return out, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
