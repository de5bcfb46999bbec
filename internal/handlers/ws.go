package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatusHandler exposes the QR and status broadcast over a websocket.
type StatusHandler struct {
	hub http.Handler
}

func NewStatusHandler(hub http.Handler) *StatusHandler {
	return &StatusHandler{hub: hub}
}

// Register mounts GET /ws. Clients may pass ?session_id= to follow one bot.
func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/ws", echo.WrapHandler(h.hub))
}
