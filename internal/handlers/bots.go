package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"

	"github.com/gongonut/propiedadraiz-backend/internal/auth"
	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

const qrImageSize = 256

type BotService interface {
	Create(ctx context.Context, req bots.CreateBotRequest) (bots.Bot, error)
	Get(ctx context.Context, id string) (bots.Bot, error)
	List(ctx context.Context) ([]bots.Bot, error)
	UpdateDetails(ctx context.Context, id string, req bots.UpdateBotRequest) (bots.Bot, error)
	Update(ctx context.Context, id string, p bots.Patch) (bots.Bot, error)
	Delete(ctx context.Context, id string) error
}

// SessionController is the slice of the session manager the admin API drives.
type SessionController interface {
	Start(ctx context.Context, bot bots.Bot, opts ...whatsapp.StartOption) (string, error)
	Stop(ctx context.Context, sessionID string) error
	SendText(ctx context.Context, sessionID, to, text string) error
	PairPhone(ctx context.Context, sessionID, phone string) (string, error)
	Sessions() *whatsapp.Sessions
}

type BotsHandler struct {
	logger   *slog.Logger
	service  BotService
	sessions SessionController
}

func NewBotsHandler(log *slog.Logger, service BotService, sessions SessionController) *BotsHandler {
	return &BotsHandler{
		logger:   log.With(slog.String("handler", "bots")),
		service:  service,
		sessions: sessions,
	}
}

func (h *BotsHandler) Register(e *echo.Echo) {
	group := e.Group("/bots")
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/sessions", h.ListSessions)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.PATCH("/:id/activate", h.Activate)
	group.PATCH("/:id/inactivate", h.Inactivate)
	group.GET("/:id/qr.png", h.QRImage)
	group.POST("/:id/messages", h.SendMessage)
	group.POST("/:id/pairing-code", h.PairingCode)
}

// Create godoc
// @Summary Create bot
// @Description Creates the bot record and starts its session in the background.
// @Tags bots
// @Param payload body bots.CreateBotRequest true "Bot payload"
// @Success 201 {object} bots.Bot
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /bots [post]
func (h *BotsHandler) Create(c echo.Context) error {
	var req bots.CreateBotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bot, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	h.audit(c, "created", bot)

	// The record is created even when the session cannot start.
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		if _, err := h.sessions.Start(ctx, bot); err != nil {
			h.logger.Error("start session for new bot failed",
				slog.String("bot_id", bot.ID), slog.Any("error", err))
		}
	}()
	return c.JSON(http.StatusCreated, bot)
}

// audit logs who changed a bot. Requests without a token log as anonymous.
func (h *BotsHandler) audit(c echo.Context, action string, bot bots.Bot) {
	operator, err := auth.SubjectFromContext(c)
	if err != nil {
		operator = "anonymous"
	}
	h.logger.Info("bot "+action,
		slog.String("operator", operator),
		slog.String("bot_id", bot.ID),
		slog.String("session_id", bot.SessionID),
	)
}

// List godoc
// @Summary List bots
// @Tags bots
// @Success 200 {array} bots.Bot
// @Router /bots [get]
func (h *BotsHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// ListSessions godoc
// @Summary List live sessions
// @Tags bots
// @Success 200 {array} whatsapp.SessionInfo
// @Router /bots/sessions [get]
func (h *BotsHandler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.Sessions().Snapshot())
}

func (h *BotsHandler) Get(c echo.Context) error {
	bot, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// Update godoc
// @Summary Update bot name or company
// @Description An empty empresa_id clears the company.
// @Tags bots
// @Param id path string true "Bot ID"
// @Param payload body bots.UpdateBotRequest true "Fields to change"
// @Success 200 {object} bots.Bot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /bots/{id} [put]
func (h *BotsHandler) Update(c echo.Context) error {
	var req bots.UpdateBotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bot, err := h.service.UpdateDetails(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// Delete godoc
// @Summary Delete bot
// @Description Stops the session, then deletes the record.
// @Tags bots
// @Param id path string true "Bot ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /bots/{id} [delete]
func (h *BotsHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	bot, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := h.sessions.Stop(ctx, bot.SessionID); err != nil {
		return httpError(err)
	}
	if err := h.service.Delete(ctx, bot.ID); err != nil {
		return httpError(err)
	}
	h.audit(c, "deleted", bot)
	return c.NoContent(http.StatusNoContent)
}

type ActivateResponse struct {
	Bot bots.Bot `json:"bot"`
	QR  string   `json:"qr,omitempty"`
}

// Activate godoc
// @Summary Start bot session
// @Description Waits for the first QR code or an open connection.
// @Tags bots
// @Param id path string true "Bot ID"
// @Success 200 {object} ActivateResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /bots/{id}/activate [patch]
func (h *BotsHandler) Activate(c echo.Context) error {
	ctx := c.Request().Context()
	bot, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	qr, err := h.sessions.Start(ctx, bot)
	if err != nil {
		return httpError(err)
	}
	h.audit(c, "activated", bot)
	bot, err = h.service.Get(ctx, bot.ID)
	if err != nil {
		return httpError(err)
	}
	if qr == "" {
		qr = bot.QR
	}
	return c.JSON(http.StatusOK, ActivateResponse{Bot: bot, QR: qr})
}

// Inactivate godoc
// @Summary Stop bot session
// @Tags bots
// @Param id path string true "Bot ID"
// @Success 200 {object} bots.Bot
// @Failure 404 {object} ErrorResponse
// @Router /bots/{id}/inactivate [patch]
func (h *BotsHandler) Inactivate(c echo.Context) error {
	ctx := c.Request().Context()
	bot, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := h.sessions.Stop(ctx, bot.SessionID); err != nil {
		return httpError(err)
	}
	bot, err = h.service.Update(ctx, bot.ID, bots.Patch{Status: bots.StringPtr(bots.StatusInactive)})
	if err != nil {
		return httpError(err)
	}
	h.audit(c, "inactivated", bot)
	return c.JSON(http.StatusOK, bot)
}

// QRImage godoc
// @Summary Last QR code as PNG
// @Tags bots
// @Param id path string true "Bot ID"
// @Produce png
// @Success 200
// @Failure 404 {object} ErrorResponse
// @Router /bots/{id}/qr.png [get]
func (h *BotsHandler) QRImage(c echo.Context) error {
	bot, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if strings.TrimSpace(bot.QR) == "" {
		return echo.NewHTTPError(http.StatusNotFound, "bot has no pending qr code")
	}
	png, err := qrcode.Encode(bot.QR, qrcode.Medium, qrImageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessage godoc
// @Summary Send a text through the bot session
// @Tags bots
// @Param id path string true "Bot ID"
// @Param payload body SendMessageRequest true "Message"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /bots/{id}/messages [post]
func (h *BotsHandler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to and text are required")
	}
	ctx := c.Request().Context()
	bot, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := h.sessions.SendText(ctx, bot.SessionID, req.To, req.Text); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

type PairingCodeRequest struct {
	Phone string `json:"phone"`
}

type PairingCodeResponse struct {
	Code string `json:"code"`
}

// PairingCode godoc
// @Summary Link the bot with a phone-number code
// @Description Only for sessions that are pairing on a provider that supports it.
// @Tags bots
// @Param id path string true "Bot ID"
// @Param payload body PairingCodeRequest true "Phone number in international format"
// @Success 200 {object} PairingCodeResponse
// @Failure 404 {object} ErrorResponse
// @Failure 501 {object} ErrorResponse
// @Router /bots/{id}/pairing-code [post]
func (h *BotsHandler) PairingCode(c echo.Context) error {
	var req PairingCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Phone) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required")
	}
	ctx := c.Request().Context()
	bot, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	code, err := h.sessions.PairPhone(ctx, bot.SessionID, req.Phone)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, PairingCodeResponse{Code: code})
}
