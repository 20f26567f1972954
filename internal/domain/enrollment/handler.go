package enrollment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse,
		auth.RoleObserver, auth.RoleGuardian))
	read.GET("/children/:id/enrollments", h.ListByChild)

	write := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor))
	write.PUT("/dose-schedules/:id", h.RescheduleDose)
}

func (h *Handler) ListByChild(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByChild(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"enrollments": items})
}

type rescheduleRequest struct {
	Date string `json:"date"`
}

func (h *Handler) RescheduleDose(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := dosing.ParseDate(req.Date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	dose, err := h.svc.RescheduleDose(c.Request().Context(), id, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, dose)
}
