package repository

import (
	"context"

	"marketchat/internal/domain/entity"
)

type ChatRepository interface {
	// CreateMessage assigns the next server id and, when zero, CreatedAt.
	CreateMessage(ctx context.Context, message *entity.Message) error
	GetMessageByID(ctx context.Context, id int64) (*entity.Message, error)
	DeleteMessage(ctx context.Context, id int64) error

	// ListMessages returns up to limit messages of key with id < beforeID
	// (any id when beforeID is 0), newest selected first, returned ascending.
	ListMessages(ctx context.Context, key entity.ConversationKey, beforeID int64, limit int) ([]*entity.Message, error)

	// MarkRead marks every message in key not sent by reader as read and
	// returns how many changed.
	MarkRead(ctx context.Context, key entity.ConversationKey, reader entity.Role) (int, error)

	// ListConversations returns the viewer's conversations, most recent first,
	// with unread counts from the viewer's side.
	ListConversations(ctx context.Context, viewerID int64, role entity.Role) ([]*entity.Conversation, error)
}
