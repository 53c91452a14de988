package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	ws "marketchat/internal/infrastructure/websocket"
)

type HealthHandler struct {
	store string
	hub   *ws.Hub
	topic string
}

var healthHandler *HealthHandler

func NewHealthHandler(store string, hub *ws.Hub, topic string) *HealthHandler {
	return &HealthHandler{
		store: store,
		hub:   hub,
		topic: topic,
	}
}

func SetupHealthHandler(store string, hub *ws.Hub, topic string) {
	healthHandler = NewHealthHandler(store, hub, topic)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
		"store":  h.store,
	}
	if h.hub != nil {
		body["subscribers"] = h.hub.Subscribers(h.topic)
	}
	return c.JSON(http.StatusOK, body)
}
