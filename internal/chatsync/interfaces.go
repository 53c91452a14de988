// Package chatsync keeps a client's view of chat conversations and the active
// message thread consistent across paginated history, optimistic local sends
// and live events from the broker.
package chatsync

import (
	"context"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/config"
)

// HistoryQuery selects one page of a thread. BeforeID 0 means the newest page.
type HistoryQuery struct {
	Key      entity.ConversationKey
	Role     entity.Role
	BeforeID int64
	Limit    int
}

// ChatAPI is the request/response half of the backend.
type ChatAPI interface {
	ListConversations(ctx context.Context, viewer entity.Viewer) ([]entity.Conversation, error)
	FetchHistory(ctx context.Context, query HistoryQuery) ([]entity.Message, error)
	MarkRead(ctx context.Context, key entity.ConversationKey, role entity.Role) error
	SendMessage(ctx context.Context, payload entity.MessagePayload) (*entity.Message, error)
	DeleteMessage(ctx context.Context, id int64, role entity.Role) error
}

// LiveConnection is the publish/subscribe half of the backend.
// *websocket.Connection implements it.
type LiveConnection interface {
	Connect(ctx context.Context)
	Disconnect()
	Connected() bool
	Publish(ctx context.Context, payload entity.MessagePayload) error
	OnMessage(fn func(*entity.Message)) (unsubscribe func())
	OnStateChange(fn func(connected bool)) (unsubscribe func())
	OnSendRejected(fn func(websocket.SendRejection)) (unsubscribe func())
}

type Options struct {
	PageSize     int
	MatchWindow  time.Duration
	FetchTimeout time.Duration
	PollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		PageSize:     20,
		MatchWindow:  2 * time.Second,
		FetchTimeout: 10 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// OptionsFrom converts loaded configuration, keeping defaults for unset values.
func OptionsFrom(c config.ChatOptions) Options {
	opts := DefaultOptions()
	if c.PageSize > 0 {
		opts.PageSize = c.PageSize
	}
	if c.MatchWindow > 0 {
		opts.MatchWindow = c.MatchWindow
	}
	if c.FetchTimeout > 0 {
		opts.FetchTimeout = c.FetchTimeout
	}
	if c.PollInterval > 0 {
		opts.PollInterval = c.PollInterval
	}
	return opts
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.FetchTimeout)
}
