package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
)

// Setup registers every route. handler.Setup and handler.SetupHealthHandler
// must have run first. chatMiddleware wraps the REST routes only.
func Setup(e *echo.Echo, chatMiddleware ...echo.MiddlewareFunc) {
	SetupChatRouter(e, handler.GetChatHandler(), chatMiddleware...)
	SetupWebSocketRouter(e, handler.GetWebSocketHandler())
	SetupHealthRouter(e)
}
