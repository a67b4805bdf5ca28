package alert

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
	"github.com/memoraid/memoraid/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/alerts", h.ListAlerts)
	api.POST("/alerts", h.CreateSOS, auth.RequireRole("patient"))
	api.POST("/alerts/:id/handle", h.HandleAlert, auth.RequireRole("caregiver"))
}

type sosRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *Handler) CreateSOS(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	var req sosRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.CreateSOS(ctx, patientID, req.Latitude, req.Longitude)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	f := Filter{
		Status: c.QueryParam("status"),
		Kind:   c.QueryParam("kind"),
	}
	if auth.RoleFromContext(ctx) == "patient" {
		id, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
		}
		f.PatientID = id
	} else {
		id, err := uuid.Parse(c.QueryParam("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
		f.PatientID = id
	}

	page := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, f, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) HandleAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	a, err := h.svc.Handle(c.Request().Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAlreadyHandled):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, a)
}
