package sessionlog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo журнал в коллекции session_events
type MongoRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoRepo подключается к MongoDB и создаёт индекс по времени
func NewMongoRepo(ctx context.Context, uri, database string) (*MongoRepo, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	if database == "" {
		database = "statesync"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB не отвечает: %w", err)
	}

	repo := &MongoRepo{
		client:     client,
		collection: client.Database(database).Collection("session_events"),
		ctxTimeout: 5 * time.Second,
	}
	atIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "at", Value: -1}},
		Options: options.Index().SetName("at_desc"),
	}
	if _, err := repo.collection.Indexes().CreateOne(cctx, atIdx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ошибка создания индекса: %w", err)
	}
	return repo, nil
}

func (m *MongoRepo) Append(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	_, err := m.collection.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка записи в session_events: %w", err)
	}
	return nil
}

func (m *MongoRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(limit))
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения session_events: %w", err)
	}
	defer cur.Close(ctx)

	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("ошибка разбора session_events: %w", err)
	}
	return out, nil
}

func (m *MongoRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
