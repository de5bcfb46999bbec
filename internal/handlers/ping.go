package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Len() int
}

type PingHandler struct {
	logger   *slog.Logger
	sessions SessionCounter
}

func NewPingHandler(log *slog.Logger, sessions SessionCounter) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping")), sessions: sessions}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

type PingResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Ping godoc
// @Summary Liveness probe
// @Tags system
// @Success 200 {object} PingResponse
// @Router /ping [get]
func (h *PingHandler) Ping(c echo.Context) error {
	resp := PingResponse{Status: "ok"}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
