package push

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
)

// Handler exposes device token registration over HTTP.
type Handler struct {
	tokens TokenStore
}

func NewHandler(tokens TokenStore) *Handler {
	return &Handler{tokens: tokens}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/devices", h.RegisterDevice)
	api.DELETE("/devices/:token", h.UnregisterDevice)
}

type registerDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	var req registerDeviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}

	if err := h.tokens.Register(c.Request().Context(), userID, req.Token, req.Platform); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) UnregisterDevice(c echo.Context) error {
	token := c.Param("token")
	if err := h.tokens.Unregister(c.Request().Context(), token); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
