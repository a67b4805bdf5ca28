package carelink

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/care-links", h.RequestLink, auth.RequireRole("caregiver", "patient"))
	api.GET("/care-links", h.ListLinks)
	api.POST("/care-links/:id/approve", h.ApproveLink, auth.RequireRole("admin"))
	api.DELETE("/care-links/:id", h.RevokeLink, auth.RequireRole("admin"))
}

func (h *Handler) RequestLink(c echo.Context) error {
	var l CareLink
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RequestLink(c.Request().Context(), &l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLinks(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}

	var links []*CareLink
	switch auth.RoleFromContext(ctx) {
	case "caregiver":
		links, err = h.svc.ListForCaregiver(ctx, userID)
	case "patient":
		links, err = h.svc.ListForPatient(ctx, userID)
	default:
		// Admins may filter by patient_id.
		if pid := c.QueryParam("patient_id"); pid != "" {
			patientID, perr := uuid.Parse(pid)
			if perr != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
			}
			links, err = h.svc.ListForPatient(ctx, patientID)
		} else {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, links)
}

func (h *Handler) ApproveLink(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	approverID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	if err := h.svc.Approve(c.Request().Context(), id, approverID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, ErrAlreadyApproved) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RevokeLink(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Revoke(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
