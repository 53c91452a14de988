package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

type memoryChatRepository struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]*entity.Message
	now      func() time.Time
}

func NewMemoryChatRepository() repository.ChatRepository {
	return &memoryChatRepository{
		messages: make(map[int64]*entity.Message),
		now:      time.Now,
	}
}

func (r *memoryChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	message.ID = r.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.now()
	}

	stored := *message
	stored.TempID = ""
	r.messages[message.ID] = &stored
	return nil
}

func (r *memoryChatRepository) GetMessageByID(ctx context.Context, id int64) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	copied := *message
	return &copied, nil
}

func (r *memoryChatRepository) DeleteMessage(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[id]; !ok {
		return errors.NotFound("Message", nil)
	}
	delete(r.messages, id)
	return nil
}

func (r *memoryChatRepository) ListMessages(ctx context.Context, key entity.ConversationKey, beforeID int64, limit int) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*entity.Message
	for _, message := range r.messages {
		if message.Key() != key {
			continue
		}
		if beforeID > 0 && message.ID >= beforeID {
			continue
		}
		copied := *message
		matched = append(matched, &copied)
	}

	// Newest first to pick the page, then flip to chronological order.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

func (r *memoryChatRepository) MarkRead(ctx context.Context, key entity.ConversationKey, reader entity.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, message := range r.messages {
		if message.Key() == key && message.Sender != reader && !message.Read {
			message.Read = true
			changed++
		}
	}
	return changed, nil
}

func (r *memoryChatRepository) ListConversations(ctx context.Context, viewerID int64, role entity.Role) ([]*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey := make(map[entity.ConversationKey]*entity.Conversation)
	latest := make(map[entity.ConversationKey]int64)
	latestProduct := make(map[entity.ConversationKey]int64)

	viewer := entity.Viewer{ID: viewerID, Role: role}
	for _, message := range r.messages {
		key := message.Key()
		if !viewer.Participates(key) {
			continue
		}

		conv, ok := byKey[key]
		if !ok {
			conv = &entity.Conversation{BuyerID: key.BuyerID, SellerID: key.SellerID}
			byKey[key] = conv
		}

		if message.Sender != role && !message.Read {
			conv.UnreadCount++
		}

		if message.Sender == entity.RoleBuyer && message.SenderName != "" {
			conv.BuyerName = message.SenderName
		}
		if message.Sender == entity.RoleSeller && message.SenderName != "" {
			conv.SellerName = message.SenderName
		}

		if message.ID > latest[key] {
			latest[key] = message.ID
			createdAt := message.CreatedAt
			conv.LastMessage = message.Text
			conv.LastMessageTime = &createdAt
		}
		if message.ProductID > 0 && message.ID > latestProduct[key] {
			latestProduct[key] = message.ID
			conv.ProductID = message.ProductID
			conv.ProductName = message.ProductName
		}
	}

	conversations := make([]*entity.Conversation, 0, len(byKey))
	for _, conv := range byKey {
		conversations = append(conversations, conv)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return latest[conversations[i].Key()] > latest[conversations[j].Key()]
	})
	return conversations, nil
}
