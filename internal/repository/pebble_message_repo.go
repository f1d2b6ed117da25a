package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/weiawesome/blog-chat/internal/domain"
)

// Key layout:
//
//	m/<room len uint16><room><unix nanos uint64><id>  -> JSON message
//	i/<id>                                            -> message key
//
// Big-endian integers keep one room's keys contiguous and time ordered.
const (
	pebbleMsgPrefix = "m/"
	pebbleIDPrefix  = "i/"
)

// PebbleMessageRepository is an embedded store for single node deployments.
type PebbleMessageRepository struct {
	db *pebble.DB
}

func NewPebbleMessageRepository(dir string) (*PebbleMessageRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pebble dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &PebbleMessageRepository{db: db}, nil
}

func roomPrefix(room string) []byte {
	if len(room) > math.MaxUint16 {
		room = room[:math.MaxUint16]
	}
	key := make([]byte, 0, len(pebbleMsgPrefix)+2+len(room))
	key = append(key, pebbleMsgPrefix...)
	key = binary.BigEndian.AppendUint16(key, uint16(len(room)))
	return append(key, room...)
}

func messageKey(msg *domain.ChatMessage) []byte {
	key := roomPrefix(msg.Room)
	key = binary.BigEndian.AppendUint64(key, uint64(msg.Timestamp.UnixNano()))
	return append(key, msg.ID...)
}

func idKey(id string) []byte {
	return append([]byte(pebbleIDPrefix), id...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (r *PebbleMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := messageKey(msg)
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return err
	}
	if err := b.Set(idKey(msg.ID), key, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *PebbleMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}

	prefix := roomPrefix(room)
	iter, err := r.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	msgs := make([]domain.ChatMessage, 0, limit)
	for ok := iter.Last(); ok && len(msgs) < limit; ok = iter.Prev() {
		var msg domain.ChatMessage
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, fmt.Errorf("corrupt message at %q: %w", iter.Key(), err)
		}
		msgs = append(msgs, msg)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}

func (r *PebbleMessageRepository) lookup(id string) ([]byte, *domain.ChatMessage, error) {
	key, closer, err := r.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	msgKey := append([]byte(nil), key...)
	closer.Close()

	val, closer, err := r.db.Get(msgKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	defer closer.Close()

	var msg domain.ChatMessage
	if err := json.Unmarshal(val, &msg); err != nil {
		return nil, nil, err
	}
	return msgKey, &msg, nil
}

func (r *PebbleMessageRepository) GetByID(ctx context.Context, id string) (*domain.ChatMessage, error) {
	_, msg, err := r.lookup(id)
	return msg, err
}

func (r *PebbleMessageRepository) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	msgKey, msg, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Delete(msgKey, nil); err != nil {
		return nil, err
	}
	if err := b.Delete(idKey(id), nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	return msg, nil
}

func (r *PebbleMessageRepository) Close() error {
	return r.db.Close()
}
