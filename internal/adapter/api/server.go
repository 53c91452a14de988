package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

// NewServer builds the echo instance serving the chat backend. store names
// the repository backing it for the health endpoint. REST requests are
// throttled per IP through limiter.
func NewServer(chatUseCase *usecase.ChatUseCase, hub *ws.Hub, limiter *ratelimit.RateLimiter, store, topic string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = NewValidator()

	handler.Setup(chatUseCase, hub)
	handler.SetupHealthHandler(store, hub, topic)
	router.Setup(e, apimiddleware.RateLimit(limiter))

	return e
}
