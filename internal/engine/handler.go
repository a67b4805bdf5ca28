package engine

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memoraid/memoraid/internal/platform/auth"
)

// Handler exposes manual pass triggers for operators, mirroring what the
// runner does on its tick.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/engine", auth.RequireRole("admin"))
	g.POST("/instantiate", h.Instantiate)
	g.POST("/reminders", h.Reminders)
	g.POST("/escalations", h.Escalations)
}

func (h *Handler) Instantiate(c echo.Context) error {
	date := h.engine.clock.Now()
	if d := c.QueryParam("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		}
		date = parsed
	}
	created, err := h.engine.EnsureInstancesForDate(c.Request().Context(), date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) Reminders(c echo.Context) error {
	sent, err := h.engine.RunReminderPass(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"sent": sent})
}

func (h *Handler) Escalations(c echo.Context) error {
	missed, err := h.engine.RunMissedPass(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"missed": missed})
}
