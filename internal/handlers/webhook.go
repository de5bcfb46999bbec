package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp/providers/cloud"
)

// MessageDeliverer routes an out-of-band message into a live session.
type MessageDeliverer interface {
	Deliver(ctx context.Context, sessionID string, msg whatsapp.InboundMessage) error
}

// WebhookHandler receives WhatsApp Cloud API callbacks.
type WebhookHandler struct {
	logger      *slog.Logger
	verifyToken string
	deliverer   MessageDeliverer
	fallback    whatsapp.InboundHandler
}

// NewWebhookHandler builds the webhook endpoint. fallback handles messages for
// numbers that have no live session, so replies still go out when the cloud
// session was never started.
func NewWebhookHandler(log *slog.Logger, verifyToken string, deliverer MessageDeliverer, fallback whatsapp.InboundHandler) *WebhookHandler {
	return &WebhookHandler{
		logger:      log.With(slog.String("handler", "whatsapp_webhook")),
		verifyToken: verifyToken,
		deliverer:   deliverer,
		fallback:    fallback,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/whatsapp/webhook", h.Verify)
	e.POST("/whatsapp/webhook", h.Receive)
}

// Verify godoc
// @Summary Cloud API webhook subscription check
// @Tags whatsapp
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge echoed back"
// @Produce plain
// @Success 200 {string} string
// @Failure 403 {object} ErrorResponse
// @Router /whatsapp/webhook [get]
func (h *WebhookHandler) Verify(c echo.Context) error {
	challenge, ok := cloud.VerifySubscription(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
		h.verifyToken,
	)
	if !ok {
		h.logger.Warn("webhook verification rejected")
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive godoc
// @Summary Cloud API webhook callback
// @Description Status callbacks and unparseable payloads are acknowledged and ignored.
// @Tags whatsapp
// @Param payload body cloud.WebhookPayload true "Webhook payload"
// @Success 200 {object} map[string]string
// @Router /whatsapp/webhook [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	ack := map[string]string{"status": "ok"}

	var payload cloud.WebhookPayload
	if err := c.Bind(&payload); err != nil {
		h.logger.Warn("webhook payload rejected", slog.Any("error", err))
		return c.JSON(http.StatusOK, ack)
	}
	msg, ok := cloud.ParseInbound(payload)
	if !ok {
		return c.JSON(http.StatusOK, ack)
	}

	// Meta retries callbacks that are not acknowledged quickly, so handling
	// continues after the response.
	ctx := context.WithoutCancel(c.Request().Context())
	err := h.deliverer.Deliver(ctx, msg.SessionID, msg)
	switch {
	case err == nil:
	case errors.Is(err, whatsapp.ErrSessionNotFound) && h.fallback != nil:
		go func() {
			if err := h.fallback.HandleIncomingMessage(ctx, msg); err != nil {
				h.logger.Error("webhook message handling failed",
					slog.String("session_id", msg.SessionID), slog.Any("error", err))
			}
		}()
	default:
		h.logger.Error("webhook delivery failed",
			slog.String("session_id", msg.SessionID), slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, ack)
}
