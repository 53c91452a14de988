package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type markReadRequest struct {
	BuyerID  int64       `json:"buyer_id" validate:"required,gt=0"`
	SellerID int64       `json:"seller_id" validate:"required,gt=0"`
	Role     entity.Role `json:"role" validate:"required,oneof=buyer seller"`
}

// ListConversations returns the viewer's conversations, newest first
func (h *ChatHandler) ListConversations(c echo.Context) error {
	viewerID, err := strconv.ParseInt(c.QueryParam("viewer_id"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("viewer_id must be an integer", err))
	}

	conversations, err := h.chatUseCase.ListConversations(c.Request().Context(), viewerID, entity.Role(c.QueryParam("role")))
	if err != nil {
		return response.Error(c, err)
	}
	if conversations == nil {
		conversations = []*entity.Conversation{}
	}

	return response.Success(c, conversations)
}

// GetMessages returns one page of a conversation, oldest first
func (h *ChatHandler) GetMessages(c echo.Context) error {
	buyerID, err := strconv.ParseInt(c.QueryParam("buyer_id"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("buyer_id must be an integer", err))
	}
	sellerID, err := strconv.ParseInt(c.QueryParam("seller_id"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("seller_id must be an integer", err))
	}
	cursor := utils.GetCursorParams(c)

	messages, err := h.chatUseCase.GetHistory(c.Request().Context(), usecase.HistoryInput{
		Key:      entity.ConversationKey{BuyerID: buyerID, SellerID: sellerID},
		Role:     entity.Role(c.QueryParam("role")),
		BeforeID: cursor.BeforeID,
		Limit:    cursor.Limit,
	})
	if err != nil {
		return response.Error(c, err)
	}
	if messages == nil {
		messages = []*entity.Message{}
	}

	return response.Success(c, messages)
}

// MarkRead marks the counterpart's messages in a conversation as read
func (h *ChatHandler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	updated, err := h.chatUseCase.MarkRead(c.Request().Context(), entity.ConversationKey{BuyerID: req.BuyerID, SellerID: req.SellerID}, req.Role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"updated": updated})
}

// SendMessage is the request path for clients without a live connection
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var payload entity.MessagePayload
	if err := c.Bind(&payload); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), payload)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// DeleteMessage removes a message sent by the given role
func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid message id", err))
	}

	if err := h.chatUseCase.DeleteMessage(c.Request().Context(), id, entity.Role(c.QueryParam("role"))); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int64{"deleted": id})
}
