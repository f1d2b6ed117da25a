package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
)

var keyspaceName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

// Messages are written to a room-partitioned table for history reads and an
// id keyed table for single message lookups.
var cassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages_by_room (
		room text,
		sent_at timestamp,
		message_id text,
		user_id text,
		username text,
		body text,
		image text,
		PRIMARY KEY ((room), sent_at, message_id)
	) WITH CLUSTERING ORDER BY (sent_at DESC, message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_messages_by_id (
		message_id text PRIMARY KEY,
		room text,
		sent_at timestamp,
		user_id text,
		username text,
		body text,
		image text
	)`,
}

type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	if !keyspaceName.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("invalid cassandra keyspace %q", cfg.Keyspace)
	}

	if cfg.Migrate {
		if err := createKeyspace(cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	r := &CassandraMessageRepository{session: session}
	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout+cfg.Timeout)
		defer cancel()
		if err := r.Migrate(ctx); err != nil {
			session.Close()
			return nil, err
		}
	}
	return r, nil
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	return cluster
}

func createKeyspace(cfg config.CassandraConfig) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create cassandra session: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, cfg.Keyspace)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

// Migrate creates the message tables when missing.
func (r *CassandraMessageRepository) Migrate(ctx context.Context) error {
	for _, stmt := range cassandraSchema {
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply cassandra schema: %w", err)
		}
	}
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	default:
		return gocql.LocalQuorum
	}
}

// Append writes both tables in one logged batch. Cassandra inserts are
// upserts, so replays overwrite the same rows.
func (r *CassandraMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO chat_messages_by_room (room, sent_at, message_id, user_id, username, body, image)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Room, msg.Timestamp, msg.ID, msg.UserID, msg.Username, msg.Text, msg.Image)
	batch.Query(`INSERT INTO chat_messages_by_id (message_id, room, sent_at, user_id, username, body, image)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Room, msg.Timestamp, msg.UserID, msg.Username, msg.Text, msg.Image)

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}

	iter := r.session.Query(`SELECT message_id, user_id, username, room, body, image, sent_at
		FROM chat_messages_by_room WHERE room = ? LIMIT ?`, room, limit).
		WithContext(ctx).Iter()

	msgs := make([]domain.ChatMessage, 0, limit)
	var msg domain.ChatMessage
	for iter.Scan(&msg.ID, &msg.UserID, &msg.Username, &msg.Room, &msg.Text, &msg.Image, &msg.Timestamp) {
		msg.Timestamp = msg.Timestamp.UTC()
		msgs = append(msgs, msg)
		msg = domain.ChatMessage{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	reverse(msgs)
	return msgs, nil
}

func (r *CassandraMessageRepository) GetByID(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := r.session.Query(`SELECT message_id, user_id, username, room, body, image, sent_at
		FROM chat_messages_by_id WHERE message_id = ?`, id).
		WithContext(ctx).
		Scan(&msg.ID, &msg.UserID, &msg.Username, &msg.Room, &msg.Text, &msg.Image, &msg.Timestamp)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return &msg, nil
}

func (r *CassandraMessageRepository) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM chat_messages_by_room WHERE room = ? AND sent_at = ? AND message_id = ?`,
		msg.Room, msg.Timestamp, msg.ID)
	batch.Query(`DELETE FROM chat_messages_by_id WHERE message_id = ?`, msg.ID)
	if err := r.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	return msg, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}
