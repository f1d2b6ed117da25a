package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/blog-chat/internal/domain"
)

var suiteBase = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testMessage(id, room string, offset time.Duration) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        id,
		UserID:    "u-" + id,
		Username:  "user " + id,
		Room:      room,
		Text:      "text " + id,
		Timestamp: suiteBase.Add(offset),
	}
}

// runRepositorySuite checks the behaviour every MessageRepository backend
// must share.
func runRepositorySuite(t *testing.T, open func(t *testing.T) MessageRepository) {
	ctx := context.Background()

	t.Run("RecentEmptyRoom", func(t *testing.T) {
		repo := open(t)
		msgs, err := repo.Recent(ctx, "empty", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("RecentIsNewestNOldestFirst", func(t *testing.T) {
		repo := open(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, repo.Append(ctx, testMessage(fmt.Sprintf("m%d", i), "go", time.Duration(i)*time.Second)))
		}
		require.NoError(t, repo.Append(ctx, testMessage("other", "rust", 10*time.Second)))

		msgs, err := repo.Recent(ctx, "go", 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m2", msgs[0].ID)
		assert.Equal(t, "m3", msgs[1].ID)
		assert.Equal(t, "m4", msgs[2].ID)

		all, err := repo.Recent(ctx, "go", 100)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("RoomPrefixesDoNotOverlap", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Append(ctx, testMessage("a", "go", 0)))
		require.NoError(t, repo.Append(ctx, testMessage("b", "golang", time.Second)))

		msgs, err := repo.Recent(ctx, "go", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "a", msgs[0].ID)
	})

	t.Run("AppendIsIdempotent", func(t *testing.T) {
		repo := open(t)
		msg := testMessage("dup", "go", 0)
		require.NoError(t, repo.Append(ctx, msg))
		require.NoError(t, repo.Append(ctx, msg))

		msgs, err := repo.Recent(ctx, "go", 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("AppendRejectsInvalid", func(t *testing.T) {
		repo := open(t)
		err := repo.Append(ctx, &domain.ChatMessage{ID: "x", Username: "alice"})
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	})

	t.Run("RoundTripFields", func(t *testing.T) {
		repo := open(t)
		img := "/uploads/chat/a.png"
		msg := testMessage("img", "go", 0)
		msg.Image = &img
		require.NoError(t, repo.Append(ctx, msg))

		got, err := repo.GetByID(ctx, "img")
		require.NoError(t, err)
		assert.Equal(t, msg.UserID, got.UserID)
		assert.Equal(t, msg.Username, got.Username)
		assert.Equal(t, msg.Text, got.Text)
		require.NotNil(t, got.Image)
		assert.Equal(t, img, *got.Image)
		assert.True(t, msg.Timestamp.Equal(got.Timestamp))
	})

	t.Run("GetByIDMissing", func(t *testing.T) {
		repo := open(t)
		_, err := repo.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Append(ctx, testMessage("keep", "go", 0)))
		require.NoError(t, repo.Append(ctx, testMessage("drop", "go", time.Second)))

		deleted, err := repo.Delete(ctx, "drop")
		require.NoError(t, err)
		assert.Equal(t, "drop", deleted.ID)
		assert.Equal(t, "go", deleted.Room)

		msgs, err := repo.Recent(ctx, "go", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "keep", msgs[0].ID)

		_, err = repo.Delete(ctx, "drop")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}
