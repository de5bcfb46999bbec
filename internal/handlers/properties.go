package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

type PropertyService interface {
	List(ctx context.Context) ([]properties.Property, error)
	FindByCode(ctx context.Context, code string) (properties.Property, error)
	Create(ctx context.Context, req properties.CreatePropertyRequest) (properties.Property, error)
	WhatsAppURL(ctx context.Context, code string) (string, error)
}

type PropertiesHandler struct {
	logger  *slog.Logger
	service PropertyService
}

func NewPropertiesHandler(log *slog.Logger, service PropertyService) *PropertiesHandler {
	return &PropertiesHandler{
		logger:  log.With(slog.String("handler", "properties")),
		service: service,
	}
}

func (h *PropertiesHandler) Register(e *echo.Echo) {
	group := e.Group("/properties")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/:code", h.Get)
	group.GET("/:code/whatsapp", h.WhatsApp)
}

// List godoc
// @Summary List properties
// @Tags properties
// @Success 200 {array} properties.Property
// @Router /properties [get]
func (h *PropertiesHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *PropertiesHandler) Get(c echo.Context) error {
	p, err := h.service.FindByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// Create godoc
// @Summary Create property
// @Tags properties
// @Param payload body properties.CreatePropertyRequest true "Listing"
// @Success 201 {object} properties.Property
// @Failure 400 {object} ErrorResponse
// @Router /properties [post]
func (h *PropertiesHandler) Create(c echo.Context) error {
	var req properties.CreatePropertyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info("property created", slog.String("code", p.Code))
	return c.JSON(http.StatusCreated, p)
}

type WhatsAppLinkResponse struct {
	URL string `json:"url"`
}

// WhatsApp godoc
// @Summary Chat link for a property
// @Description Opens a chat with the first active bot, pre-filled with the interest phrase.
// @Tags properties
// @Param code path string true "Property code"
// @Param redirect query string false "1 answers with a 302 instead of JSON"
// @Success 200 {object} WhatsAppLinkResponse
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Router /properties/{code}/whatsapp [get]
func (h *PropertiesHandler) WhatsApp(c echo.Context) error {
	link, err := h.service.WhatsAppURL(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	if c.QueryParam("redirect") == "1" {
		return c.Redirect(http.StatusFound, link)
	}
	return c.JSON(http.StatusOK, WhatsAppLinkResponse{URL: link})
}
