package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gongonut/propiedadraiz-backend/internal/auth"
)

type AuthHandler struct {
	logger      *slog.Logger
	credentials *auth.Credentials
	secret      string
	expiresIn   time.Duration
}

func NewAuthHandler(log *slog.Logger, credentials *auth.Credentials, secret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{
		logger:      log.With(slog.String("handler", "auth")),
		credentials: credentials,
		secret:      secret,
		expiresIn:   expiresIn,
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

type LoginRequest struct {
	Correo   string `json:"correo"`
	Password string `json:"password"`
}

type LoginUser struct {
	Correo string `json:"correo"`
	Role   string `json:"role"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        LoginUser `json:"user"`
}

// Login godoc
// @Summary Operator login
// @Tags auth
// @Param payload body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	subject, err := h.credentials.Verify(req.Correo, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("login rejected", slog.String("remote_ip", c.RealIP()))
			return echo.NewHTTPError(http.StatusUnauthorized, "Credenciales inválidas")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token, expiresAt, err := auth.GenerateToken(subject, h.secret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        LoginUser{Correo: subject, Role: auth.RoleAdmin},
	})
}
