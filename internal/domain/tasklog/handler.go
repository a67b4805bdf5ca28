package tasklog

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
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
	api.GET("/tasks", h.ListTasks)
	api.POST("/tasks/:id/complete", h.CompleteTask, auth.RequireRole("patient", "caregiver"))
	api.POST("/tasks/:id/undo", h.UndoTask, auth.RequireRole("patient", "caregiver"))
}

func (h *Handler) ListTasks(c echo.Context) error {
	ctx := c.Request().Context()

	// Default to today's calendar day in the clock's zone. Truncating the
	// instant would pick the UTC day, which is off by one late in the local
	// day west of Greenwich.
	now := h.now()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d := c.QueryParam("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		}
		date = parsed
	}

	var patientID uuid.UUID
	if auth.RoleFromContext(ctx) == "patient" {
		id, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
		}
		patientID = id
	} else {
		id, err := uuid.Parse(c.QueryParam("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
		patientID = id
	}

	tasks, err := h.svc.ListForDate(ctx, patientID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if tasks == nil {
		tasks = []*TaskLog{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *Handler) CompleteTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	t, err := h.svc.Complete(c.Request().Context(), id, userID, h.now())
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UndoTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Undo(c.Request().Context(), id, h.now())
	if err != nil {
		return taskError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func taskError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotCompletable), errors.Is(err, ErrNotUndoable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
