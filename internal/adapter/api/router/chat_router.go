package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
)

// SetupChatRouter sets up the chat REST routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, mw ...echo.MiddlewareFunc) {
	v1 := e.Group("/v1", mw...)

	v1.GET("/conversations", chatHandler.ListConversations) // GET /v1/conversations?viewer_id=&role=
	v1.PUT("/conversations/read", chatHandler.MarkRead)     // PUT /v1/conversations/read

	v1.GET("/messages", chatHandler.GetMessages)          // GET /v1/messages?buyer_id=&seller_id=&role=&before_id=&limit=
	v1.POST("/messages", chatHandler.SendMessage)         // POST /v1/messages - fallback send
	v1.DELETE("/messages/:id", chatHandler.DeleteMessage) // DELETE /v1/messages/:id?role=
}
