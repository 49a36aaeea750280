package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type saveDoc struct {
	User   string `bson:"user"`
	SaveID string `bson:"save_id"`
	Data   []byte `bson:"data"`
}

type userDoc struct {
	User      string `bson:"_id"`
	Timestamp int64  `bson:"timestamp"`
}

type cacheDoc struct {
	User   string `bson:"user"`
	SaveID string `bson:"save_id"`
	Key    string `bson:"key"`
	Value  []byte `bson:"value"`
}

type imageDoc struct {
	User     string `bson:"user"`
	SaveID   string `bson:"save_id"`
	Category string `bson:"category"`
	Data     []byte `bson:"data"`
}

// CloudBackend stores saves in MongoDB.
type CloudBackend struct {
	client *mongo.Client
	saves  *mongo.Collection
	users  *mongo.Collection
	cache  *mongo.Collection
	images *mongo.Collection
	logger *slog.Logger
}

var _ Backend = (*CloudBackend)(nil)

// NewCloudBackend connects to MongoDB and verifies the connection.
func NewCloudBackend(ctx context.Context, uri, database string, logger *slog.Logger) (*CloudBackend, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	logger.Info("Connected to MongoDB", "database", database)
	return &CloudBackend{
		client: client,
		saves:  db.Collection("saves"),
		users:  db.Collection("users"),
		cache:  db.Collection("cache"),
		images: db.Collection("images"),
		logger: logger,
	}, nil
}

func (c *CloudBackend) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

func (c *CloudBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

func saveFilter(user, saveID string) bson.M {
	return bson.M{"user": user, "save_id": saveID}
}

func (c *CloudBackend) Read(ctx context.Context, user, saveID string) ([]byte, error) {
	var doc saveDoc
	err := c.saves.FindOne(ctx, saveFilter(user, saveID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read save: %w", err)
	}
	return doc.Data, nil
}

func (c *CloudBackend) ReadAll(ctx context.Context, user string) (map[string][]byte, error) {
	cur, err := c.saves.Find(ctx, bson.M{"user": user})
	if err != nil {
		return nil, fmt.Errorf("failed to read saves: %w", err)
	}
	var docs []saveDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode saves: %w", err)
	}
	out := make(map[string][]byte, len(docs))
	for _, d := range docs {
		out[d.SaveID] = d.Data
	}
	return out, nil
}

func (c *CloudBackend) Commit(ctx context.Context, user, saveID string, blob []byte, timestamp int64) error {
	_, err := c.saves.ReplaceOne(ctx, saveFilter(user, saveID),
		saveDoc{User: user, SaveID: saveID, Data: blob},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return c.setTimestamp(ctx, user, timestamp)
}

func (c *CloudBackend) CommitAll(ctx context.Context, user string, saves map[string][]byte, timestamp int64) error {
	if _, err := c.saves.DeleteMany(ctx, bson.M{"user": user}); err != nil {
		return fmt.Errorf("failed to clear saves: %w", err)
	}
	if len(saves) > 0 {
		docs := make([]any, 0, len(saves))
		for id, blob := range saves {
			docs = append(docs, saveDoc{User: user, SaveID: id, Data: blob})
		}
		if _, err := c.saves.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to commit saves: %w", err)
		}
	}
	return c.setTimestamp(ctx, user, timestamp)
}

func (c *CloudBackend) setTimestamp(ctx context.Context, user string, timestamp int64) error {
	_, err := c.users.UpdateOne(ctx, bson.M{"_id": user},
		bson.M{"$set": bson.M{"timestamp": timestamp}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set timestamp: %w", err)
	}
	return nil
}

func (c *CloudBackend) Delete(ctx context.Context, user, saveID string) error {
	res, err := c.saves.DeleteOne(ctx, saveFilter(user, saveID))
	if err != nil {
		return fmt.Errorf("failed to delete save: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := c.images.DeleteMany(ctx, saveFilter(user, saveID)); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	return nil
}

func (c *CloudBackend) GetAllSaves(ctx context.Context, user string) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"save_id": 1}).
		SetSort(bson.M{"save_id": 1})
	cur, err := c.saves.Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	var docs []saveDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode save ids: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.SaveID)
	}
	return out, nil
}

func (c *CloudBackend) Timestamp(ctx context.Context, user string) (int64, error) {
	var doc userDoc
	err := c.users.FindOne(ctx, bson.M{"_id": user}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read timestamp: %w", err)
	}
	return doc.Timestamp, nil
}

func imageFilter(user, saveID, category string) bson.M {
	return bson.M{"user": user, "save_id": saveID, "category": category}
}

func (c *CloudBackend) SaveImage(ctx context.Context, user, saveID, category string, data []byte) error {
	_, err := c.images.ReplaceOne(ctx, imageFilter(user, saveID, category),
		imageDoc{User: user, SaveID: saveID, Category: category, Data: data},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func (c *CloudBackend) LoadImage(ctx context.Context, user, saveID, category string) ([]byte, error) {
	var doc imageDoc
	err := c.images.FindOne(ctx, imageFilter(user, saveID, category)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return doc.Data, nil
}

func cacheFilter(user, saveID, key string) bson.M {
	return bson.M{"user": user, "save_id": saveID, "key": key}
}

func (c *CloudBackend) Cache(ctx context.Context, user, saveID, key string, value []byte) error {
	_, err := c.cache.ReplaceOne(ctx, cacheFilter(user, saveID, key),
		cacheDoc{User: user, SaveID: saveID, Key: key, Value: value},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (c *CloudBackend) GetCache(ctx context.Context, user, saveID, key string) ([]byte, error) {
	var doc cacheDoc
	err := c.cache.FindOne(ctx, cacheFilter(user, saveID, key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return doc.Value, nil
}

func (c *CloudBackend) DeleteCache(ctx context.Context, user, saveID, key string) error {
	if _, err := c.cache.DeleteOne(ctx, cacheFilter(user, saveID, key)); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *CloudBackend) DeleteAllCache(ctx context.Context, user, saveID string) error {
	if _, err := c.cache.DeleteMany(ctx, saveFilter(user, saveID)); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
