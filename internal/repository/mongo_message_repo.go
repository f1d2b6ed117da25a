package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
)

type mongoMessage struct {
	ID        string    `bson:"_id"`
	Room      string    `bson:"room"`
	UserID    string    `bson:"userId"`
	Username  string    `bson:"username"`
	Text      string    `bson:"text"`
	Image     *string   `bson:"image"`
	Timestamp time.Time `bson:"time"`
}

func (m *mongoMessage) toDomain() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Room:      m.Room,
		Text:      m.Text,
		Image:     m.Image,
		Timestamp: m.Timestamp.UTC(),
	}
}

type MongoMessageRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoMessageRepository connects, pings the primary and ensures the
// {room, time} index used by history reads.
func NewMongoMessageRepository(ctx context.Context, cfg config.MongoConfig) (*MongoMessageRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "time", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongo index: %w", err)
	}

	return &MongoMessageRepository{client: client, coll: coll}, nil
}

// Append upserts by _id.
func (r *MongoMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	doc := mongoMessage{
		ID:        msg.ID,
		Room:      msg.Room,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Image:     msg.Image,
		Timestamp: msg.Timestamp,
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": msg.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *MongoMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{"room": room}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	msgs := make([]domain.ChatMessage, len(docs))
	for i := range docs {
		msgs[i] = docs[i].toDomain()
	}
	reverse(msgs)
	return msgs, nil
}

func (r *MongoMessageRepository) GetByID(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var doc mongoMessage
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msg := doc.toDomain()
	return &msg, nil
}

func (r *MongoMessageRepository) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var doc mongoMessage
	err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	msg := doc.toDomain()
	return &msg, nil
}

func (r *MongoMessageRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
