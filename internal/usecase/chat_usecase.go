package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Broadcaster publishes persisted messages on the shared live topic.
type Broadcaster interface {
	BroadcastMessage(topic string, message *entity.Message)
}

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	broadcaster Broadcaster
	rateLimiter *ratelimit.RateLimiter
	validate    *validator.Validate
	topic       string
	now         func() time.Time
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	broadcaster Broadcaster,
	rateLimiter *ratelimit.RateLimiter,
	topic string,
) *ChatUseCase {
	return &ChatUseCase{
		chatRepo:    chatRepo,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		validate:    validator.New(),
		topic:       topic,
		now:         time.Now,
	}
}

type HistoryInput struct {
	Key      entity.ConversationKey
	Role     entity.Role
	BeforeID int64
	Limit    int
}

func (uc *ChatUseCase) ListConversations(ctx context.Context, viewerID int64, role entity.Role) ([]*entity.Conversation, error) {
	if viewerID <= 0 {
		return nil, errors.BadRequest("viewer_id is required", nil)
	}
	if !role.Valid() {
		return nil, errors.BadRequest("role must be buyer or seller", nil)
	}

	conversations, err := uc.chatRepo.ListConversations(ctx, viewerID, role)
	if err != nil {
		logger.Error("ListConversations Error: viewer %d (%s): %v", viewerID, role, err)
		return nil, err
	}
	return conversations, nil
}

func (uc *ChatUseCase) GetHistory(ctx context.Context, input HistoryInput) ([]*entity.Message, error) {
	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if !input.Role.Valid() {
		return nil, errors.BadRequest("role must be buyer or seller", nil)
	}

	messages, err := uc.chatRepo.ListMessages(ctx, input.Key, input.BeforeID, input.Limit)
	if err != nil {
		logger.LogConversationError(input.Key.BuyerID, input.Key.SellerID, "history", err)
		return nil, err
	}
	return messages, nil
}

func (uc *ChatUseCase) MarkRead(ctx context.Context, key entity.ConversationKey, role entity.Role) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if !role.Valid() {
		return 0, errors.BadRequest("role must be buyer or seller", nil)
	}

	updated, err := uc.chatRepo.MarkRead(ctx, key, role)
	if err != nil {
		logger.LogConversationError(key.BuyerID, key.SellerID, "mark_read", err)
		return 0, err
	}
	logger.Debug("MarkRead: %d messages in %s read by %s", updated, key, role)
	return updated, nil
}

// SendMessage validates, rate-limits and persists a payload, then broadcasts
// the stored message with the sender's temporary id echoed back. Both the
// REST endpoint and send_message frames arrive here.
func (uc *ChatUseCase) SendMessage(ctx context.Context, payload entity.MessagePayload) (*entity.Message, error) {
	payload.Text = strings.TrimSpace(payload.Text)
	if err := uc.validate.Struct(payload); err != nil {
		return nil, errors.BadRequest("Invalid message payload", err)
	}

	senderKey := participantKey(payload.Key(), payload.Sender)
	allowed, waitTime := uc.rateLimiter.Allow(senderKey, ratelimit.ActionSendMessage)
	if !allowed {
		logger.Warn("SendMessage Rate Limited: %s must wait %v", senderKey, waitTime)
		return nil, errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded. Please wait %s before sending another message", waitTime.Round(time.Second)))
	}

	message := payload.ToMessage(uc.now())
	if err := uc.chatRepo.CreateMessage(ctx, message); err != nil {
		logger.LogConversationError(payload.BuyerID, payload.SellerID, "send", err)
		return nil, err
	}
	message.TempID = payload.TempID

	if uc.broadcaster != nil {
		uc.broadcaster.BroadcastMessage(uc.topic, message)
	}
	logger.Debug("SendMessage: message %d stored in %s by %s", message.ID, message.Key(), message.Sender)
	return message, nil
}

// DeleteMessage removes a message; only its sender's role may do so.
func (uc *ChatUseCase) DeleteMessage(ctx context.Context, id int64, role entity.Role) error {
	if id <= 0 {
		return errors.BadRequest("Invalid message id", nil)
	}
	if !role.Valid() {
		return errors.BadRequest("role must be buyer or seller", nil)
	}

	message, err := uc.chatRepo.GetMessageByID(ctx, id)
	if err != nil {
		return err
	}
	if message.Sender != role {
		return errors.Forbidden("Only the sender can delete this message", nil)
	}

	senderKey := participantKey(message.Key(), role)
	if allowed, waitTime := uc.rateLimiter.Allow(senderKey, ratelimit.ActionDeleteMessage); !allowed {
		return errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded. Please wait %s", waitTime.Round(time.Second)))
	}

	if err := uc.chatRepo.DeleteMessage(ctx, id); err != nil {
		logger.LogConversationError(message.BuyerID, message.SellerID, "delete", err)
		return err
	}
	return nil
}

func validateKey(key entity.ConversationKey) error {
	if key.BuyerID <= 0 || key.SellerID <= 0 {
		return errors.BadRequest("buyer_id and seller_id are required", nil)
	}
	return nil
}

func participantKey(key entity.ConversationKey, role entity.Role) string {
	if role == entity.RoleBuyer {
		return fmt.Sprintf("buyer:%d", key.BuyerID)
	}
	return fmt.Sprintf("seller:%d", key.SellerID)
}
