package catalog

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
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/vaccines/:id/intervals", h.GetIntervals)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/vaccines/:id/intervals", h.ReplaceIntervals)
}

type intervalsBody struct {
	Intervals []dosing.Interval `json:"intervals"`
}

func (h *Handler) GetIntervals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.Intervals(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []dosing.Interval{}
	}
	return c.JSON(http.StatusOK, intervalsBody{Intervals: items})
}

func (h *Handler) ReplaceIntervals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body intervalsBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReplaceIntervals(c.Request().Context(), id, body.Intervals); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, body)
}
