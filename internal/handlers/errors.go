package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
	"github.com/gongonut/propiedadraiz-backend/internal/leads"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bots.ErrBotNotFound),
		errors.Is(err, properties.ErrPropertyNotFound),
		errors.Is(err, properties.ErrNoActiveBot),
		errors.Is(err, whatsapp.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bots.ErrInvalidBot),
		errors.Is(err, properties.ErrInvalidProperty),
		errors.Is(err, leads.ErrInvalidLead):
		status = http.StatusBadRequest
	case errors.Is(err, whatsapp.ErrPairingTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, whatsapp.ErrNotSupported):
		status = http.StatusNotImplemented
	case errors.Is(err, whatsapp.ErrTransport),
		errors.Is(err, whatsapp.ErrInitialization),
		errors.Is(err, whatsapp.ErrSessionClosed):
		status = http.StatusBadGateway
	case errors.Is(err, whatsapp.ErrSessionStopped):
		status = http.StatusConflict
	}
	return echo.NewHTTPError(status, err.Error())
}
