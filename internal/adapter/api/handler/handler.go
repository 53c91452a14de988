package handler

import (
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

var (
	chatHandler      *ChatHandler
	webSocketHandler *WebSocketHandler
)

func Setup(chatUseCase *usecase.ChatUseCase, hub *ws.Hub) {
	chatHandler = NewChatHandler(chatUseCase)
	webSocketHandler = NewWebSocketHandler(hub)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
