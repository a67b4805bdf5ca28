package routine

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
	"github.com/memoraid/memoraid/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{svc: svc, now: now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/routines", h.CreateRoutine, auth.RequireRole("caregiver"))
	api.GET("/routines", h.ListRoutines)
	api.GET("/routines/:id", h.GetRoutine)
	api.PUT("/routines/:id", h.UpdateRoutine, auth.RequireRole("caregiver"))
	api.DELETE("/routines/:id", h.DeleteRoutine, auth.RequireRole("caregiver"))
}

func (h *Handler) CreateRoutine(c echo.Context) error {
	var r Routine
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRoutines(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := h.resolvePatientID(c)
	if err != nil {
		return err
	}
	page := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(ctx, patientID, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) UpdateRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r Routine
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), id, &r)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteRoutine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, h.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// resolvePatientID picks the patient whose routines are listed: patients see
// their own, everyone else must pass patient_id.
func (h *Handler) resolvePatientID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	if auth.RoleFromContext(ctx) == "patient" {
		id, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
		}
		return id, nil
	}
	pid := c.QueryParam("patient_id")
	if pid == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	id, err := uuid.Parse(pid)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return id, nil
}
