package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gongonut/propiedadraiz-backend/internal/leads"
)

type LeadService interface {
	Create(ctx context.Context, req leads.CreateLeadRequest) (leads.Lead, error)
	List(ctx context.Context) ([]leads.Lead, error)
}

type LeadsHandler struct {
	logger  *slog.Logger
	service LeadService
}

func NewLeadsHandler(log *slog.Logger, service LeadService) *LeadsHandler {
	return &LeadsHandler{
		logger:  log.With(slog.String("handler", "leads")),
		service: service,
	}
}

func (h *LeadsHandler) Register(e *echo.Echo) {
	e.GET("/leads", h.List)
	e.POST("/leads", h.Create)
}

// Create godoc
// @Summary Register interest in a property
// @Tags leads
// @Param payload body leads.CreateLeadRequest true "Lead"
// @Success 201 {object} leads.Lead
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /leads [post]
func (h *LeadsHandler) Create(c echo.Context) error {
	var req leads.CreateLeadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	lead, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, lead)
}

// List godoc
// @Summary List leads
// @Tags leads
// @Success 200 {array} leads.Lead
// @Router /leads [get]
func (h *LeadsHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}
