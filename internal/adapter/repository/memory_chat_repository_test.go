package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

func seed(t *testing.T, repo interface {
	CreateMessage(context.Context, *entity.Message) error
}, key entity.ConversationKey, sender entity.Role, texts ...string) []*entity.Message {
	t.Helper()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	var out []*entity.Message
	for i, text := range texts {
		msg := &entity.Message{
			BuyerID:   key.BuyerID,
			SellerID:  key.SellerID,
			Kind:      entity.KindText,
			Text:      text,
			Sender:    sender,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateMessage(context.Background(), msg))
		out = append(out, msg)
	}
	return out
}

func TestMemoryListMessagesPagesBackwards(t *testing.T) {
	repo := NewMemoryChatRepository()
	key := entity.ConversationKey{BuyerID: 1, SellerID: 2}
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = "m"
	}
	created := seed(t, repo, key, entity.RoleBuyer, texts...)
	seed(t, repo, entity.ConversationKey{BuyerID: 1, SellerID: 3}, entity.RoleBuyer, "other")

	ctx := context.Background()
	page, err := repo.ListMessages(ctx, key, 0, 20)
	require.NoError(t, err)
	require.Len(t, page, 20)
	assert.Equal(t, created[5].ID, page[0].ID)
	assert.Equal(t, created[24].ID, page[19].ID)

	older, err := repo.ListMessages(ctx, key, page[0].ID, 20)
	require.NoError(t, err)
	require.Len(t, older, 5)
	assert.Equal(t, created[0].ID, older[0].ID)
	assert.Equal(t, created[4].ID, older[4].ID)

	none, err := repo.ListMessages(ctx, key, older[0].ID, 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryConversationsAndMarkRead(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()
	key := entity.ConversationKey{BuyerID: 1, SellerID: 2}

	require.NoError(t, repo.CreateMessage(ctx, &entity.Message{
		BuyerID: 1, SellerID: 2, ProductID: 44, ProductName: "Keyboard",
		Kind: entity.KindProduct, Text: "Keyboard card", Sender: entity.RoleBuyer, SenderName: "ann",
	}))
	seed(t, repo, key, entity.RoleBuyer, "is it available?")
	seed(t, repo, key, entity.RoleSeller, "yes")

	sellerView, err := repo.ListConversations(ctx, 2, entity.RoleSeller)
	require.NoError(t, err)
	require.Len(t, sellerView, 1)
	assert.Equal(t, 2, sellerView[0].UnreadCount)
	assert.Equal(t, int64(44), sellerView[0].ProductID)
	assert.Equal(t, "ann", sellerView[0].BuyerName)
	assert.Equal(t, "yes", sellerView[0].LastMessage)

	changed, err := repo.MarkRead(ctx, key, entity.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	sellerView, err = repo.ListConversations(ctx, 2, entity.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, 0, sellerView[0].UnreadCount)

	buyerView, err := repo.ListConversations(ctx, 1, entity.RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, 1, buyerView[0].UnreadCount)

	empty, err := repo.ListConversations(ctx, 99, entity.RoleBuyer)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryDeleteMessage(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()
	msgs := seed(t, repo, entity.ConversationKey{BuyerID: 1, SellerID: 2}, entity.RoleBuyer, "hi")

	require.NoError(t, repo.DeleteMessage(ctx, msgs[0].ID))
	_, err := repo.GetMessageByID(ctx, msgs[0].ID)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
	assert.True(t, errors.Is(repo.DeleteMessage(ctx, msgs[0].ID), "NOT_FOUND"))
}
