package slot

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

type Handler struct {
	guard *Guard
}

func NewHandler(guard *Guard) *Handler {
	return &Handler{guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/slots/availability", h.Availability)
	api.GET("/slots/check", h.Check)
}

// Check answers whether one clinician can take another booking in a band.
// It returns 204 when the band is open and the booking error otherwise.
func (h *Handler) Check(c echo.Context) error {
	date, err := dosing.ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	clinicianID, err := uuid.Parse(c.QueryParam("clinician_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinician_id")
	}
	if err := h.guard.Check(c.Request().Context(), clinicianID, date, Label(c.QueryParam("slot"))); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Availability(c echo.Context) error {
	date, err := dosing.ParseDate(c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var clinicianID *uuid.UUID
	if raw := c.QueryParam("clinician_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinician_id")
		}
		clinicianID = &id
	}
	items, err := h.guard.Availability(c.Request().Context(), date, clinicianID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":     date.Format(dosing.DateLayout),
		"capacity": h.guard.Capacity(),
		"slots":    items,
	})
}
