package appointment

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/auth"
	"github.com/vaxtrack/vaxtrack/internal/platform/payment"
	"github.com/vaxtrack/vaxtrack/pkg/pagination"
)

// maxCallbackBody bounds the gateway callback read.
const maxCallbackBody = 64 << 10

type Handler struct {
	wf       *Workflow
	verifier *payment.Verifier
}

func NewHandler(wf *Workflow, verifier *payment.Verifier) *Handler {
	return &Handler{wf: wf, verifier: verifier}
}

var staffRoles = []string{auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleObserver}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	book := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleGuardian))
	book.POST("/appointments", h.Book)

	read := api.Group("", auth.RequireRole(staffRoles...))
	read.GET("/appointments", h.List)
	read.GET("/appointments/:id", h.Get)
	read.GET("/appointments/:id/pending", h.Pending)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/appointments/:id/payment", h.ConfirmPayment)
	desk.POST("/appointments/:id/check-in", h.CheckIn)
	desk.POST("/appointments/:id/clinician", h.AssignClinician)
	desk.POST("/appointments/:id/cancel", h.Cancel)
	desk.POST("/appointments/:id/no-show", h.MarkNoShow)
	desk.POST("/appointments/:id/absent", h.MarkAbsent)
	desk.POST("/appointments/:id/pending/replay", h.ReplayPending)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/entries/:id/assessment", h.RecordHealthAssessment)

	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/entries/:id/administration", h.AdministerDose)

	observer := api.Group("", auth.RequireRole(auth.RoleObserver))
	observer.POST("/appointments/:id/observation", h.StartObservation)
	observer.POST("/entries/:id/observation/complete", h.CompleteObservation)
}

// RegisterCallback mounts the gateway callback. It is authenticated by
// signature, so it must sit outside the bearer-token group.
func (h *Handler) RegisterCallback(g *echo.Group) {
	g.POST("/payments/callback", h.PaymentCallback)
}

type bookBody struct {
	ChildID     uuid.UUID   `json:"child_id"`
	ClinicianID *uuid.UUID  `json:"clinician_id"`
	Date        string      `json:"date"`
	Slot        slot.Label  `json:"slot"`
	PaymentMode PaymentMode `json:"payment_mode"`
	Prepaid     bool        `json:"prepaid"`
	Notes       string      `json:"notes"`
	Selections  []Selection `json:"selections"`
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	var body bookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := dosing.ParseDate(body.Date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	// Only the front desk can record money taken before booking.
	prepaid := body.Prepaid && auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.RoleReceptionist)

	a, err := h.wf.Book(c.Request().Context(), actor, BookRequest{
		ChildID:     body.ChildID,
		ClinicianID: body.ClinicianID,
		Date:        date,
		Slot:        body.Slot,
		PaymentMode: body.PaymentMode,
		Prepaid:     prepaid,
		Notes:       body.Notes,
		Selections:  body.Selections,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.wf.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Pending lists vaccine requests not yet turned into enrollments.
func (h *Handler) Pending(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reqs, err := h.wf.Pending(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": reqs, "total": len(reqs)})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("date"); v != "" {
		d, err := dosing.ParseDate(v)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		f.Date = &d
	}
	for param, dst := range map[string]**uuid.UUID{"clinician_id": &f.ClinicianID, "child_id": &f.ChildID} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}

	items, total, err := h.wf.List(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var proof Proof
	if err := c.Bind(&proof); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if proof.Method == "" {
		proof.Method = "CASH"
	}
	a, err := h.wf.ConfirmPayment(c.Request().Context(), id, proof)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PaymentCallback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	cb, err := h.verifier.Parse(body, c.Request().Header.Get(payment.SignatureHeader))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, apperr.ToHTTP(err).Message)
	}

	ctx := c.Request().Context()
	var a *Appointment
	if cb.Outcome == payment.OutcomeFailed {
		a, err = h.wf.FailPayment(ctx, cb.AppointmentID, cb.Reason)
	} else {
		a, err = h.wf.ConfirmPayment(ctx, cb.AppointmentID, Proof{Method: cb.Method, Reference: cb.Reference})
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": a.ID, "status": a.Status})
}

// transition handles the body-less status moves driven by the front desk.
func (h *Handler) transition(c echo.Context, op func(ctx echo.Context, id, actor uuid.UUID) (*Appointment, error)) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := op(c, id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CheckIn(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		return h.wf.CheckIn(c.Request().Context(), id, actor)
	})
}

type clinicianBody struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
}

func (h *Handler) AssignClinician(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		var body clinicianBody
		if err := c.Bind(&body); err != nil || body.ClinicianID == uuid.Nil {
			return nil, apperr.ErrValidation.Withf("clinician_id is required")
		}
		return h.wf.AssignClinician(c.Request().Context(), id, body.ClinicianID, actor)
	})
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		var body cancelBody
		if err := c.Bind(&body); err != nil {
			return nil, apperr.ErrValidation.Withf("malformed body")
		}
		return h.wf.Cancel(c.Request().Context(), id, actor, body.Reason)
	})
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		return h.wf.MarkNoShow(c.Request().Context(), id, actor)
	})
}

func (h *Handler) MarkAbsent(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		return h.wf.MarkAbsent(c.Request().Context(), id, actor)
	})
}

func (h *Handler) StartObservation(c echo.Context) error {
	return h.transition(c, func(c echo.Context, id, actor uuid.UUID) (*Appointment, error) {
		return h.wf.StartObservation(c.Request().Context(), id, actor)
	})
}

func (h *Handler) ReplayPending(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.wf.ReplayPending(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	failed := make([]map[string]interface{}, 0, len(report.Failed))
	for _, f := range report.Failed {
		failed = append(failed, map[string]interface{}{
			"request_id": f.RequestID,
			"kind":       f.Kind,
			"error":      f.Err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"processed": report.Processed, "failed": failed})
}

// entryAction handles the clinical steps addressed by entry id.
func (h *Handler) entryAction(c echo.Context, body interface{}, op func(c echo.Context, entryID, actor uuid.UUID) (*Appointment, error)) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	entryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := c.Bind(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := op(c, entryID, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RecordHealthAssessment(c echo.Context) error {
	var in AssessmentInput
	return h.entryAction(c, &in, func(c echo.Context, entryID, actor uuid.UUID) (*Appointment, error) {
		return h.wf.RecordHealthAssessment(c.Request().Context(), entryID, actor, in)
	})
}

func (h *Handler) AdministerDose(c echo.Context) error {
	var in AdministrationInput
	return h.entryAction(c, &in, func(c echo.Context, entryID, actor uuid.UUID) (*Appointment, error) {
		return h.wf.AdministerDose(c.Request().Context(), entryID, actor, in)
	})
}

func (h *Handler) CompleteObservation(c echo.Context) error {
	var in ObservationInput
	return h.entryAction(c, &in, func(c echo.Context, entryID, actor uuid.UUID) (*Appointment, error) {
		return h.wf.CompleteObservation(c.Request().Context(), entryID, actor, in)
	})
}
