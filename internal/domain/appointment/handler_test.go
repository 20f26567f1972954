package appointment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaxtrack/internal/domain/appointment"
	"github.com/vaxtrack/vaxtrack/internal/platform/auth"
	"github.com/vaxtrack/vaxtrack/internal/platform/payment"
)

const webhookSecret = "whsec_test"

// testAuth trusts X-Staff-ID and a comma separated X-Roles header.
func testAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, c.Request().Header.Get(auth.StaffHeader))
		if roles := c.Request().Header.Get("X-Roles"); roles != "" {
			ctx = context.WithValue(ctx, auth.UserRolesKey, strings.Split(roles, ","))
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

type server struct {
	*env
	echo     *echo.Echo
	verifier *payment.Verifier
}

func newServer() *server {
	e := newEnv()
	v := payment.NewVerifier(webhookSecret)
	h := appointment.NewHandler(e.workflow, v)

	router := echo.New()
	h.RegisterRoutes(router.Group("/api/v1", testAuth))
	h.RegisterCallback(router.Group("/api/v1"))
	return &server{env: e, echo: router, verifier: v}
}

func (s *server) do(method, path, body string, actor uuid.UUID, roles ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if actor != uuid.Nil {
		req.Header.Set(auth.StaffHeader, actor.String())
	}
	if len(roles) > 0 {
		req.Header.Set("X-Roles", strings.Join(roles, ","))
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *server) bookBody(prepaid bool) string {
	return fmt.Sprintf(`{
		"child_id": %q,
		"clinician_id": %q,
		"date": %q,
		"slot": "9-10",
		"payment_mode": "ONLINE",
		"prepaid": %t,
		"selections": [{"kind": "NEW_VACCINE", "vaccine_id": %q}]
	}`, s.demo.ChildID, s.demo.DoctorID, s.today().Format("2006-01-02"), prepaid, s.demo.HepBID)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) *appointment.Appointment {
	t.Helper()
	var a appointment.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a), rec.Body.String())
	return &a
}

func TestHandler_Book(t *testing.T) {
	s := newServer()

	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(true), s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusPaid, decode(t, rec).Status)

	// A guardian cannot mark their own booking as prepaid.
	rec = s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(true), s.demo.GuardianID, auth.RoleGuardian)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusPending, decode(t, rec).Status)

	rec = s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/appointments", `{"date":"tomorrow"}`, s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), uuid.Nil, auth.RoleReceptionist)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_BookSlotFull(t *testing.T) {
	s := newServer()
	for i := 0; i < 5; i++ {
		rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":3001`)
}

func TestHandler_GetAndList(t *testing.T) {
	s := newServer()
	for i := 0; i < 3; i++ {
		s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
	}

	rec := s.do(http.MethodGet, "/api/v1/appointments?limit=2&status=PENDING", "", s.demo.DoctorID, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []appointment.Appointment `json:"data"`
		Total      int                       `json:"total"`
		NextOffset *int                      `json:"next_offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Data, 2)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)

	rec = s.do(http.MethodGet, "/api/v1/appointments/"+page.Data[0].ID.String(), "", s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/appointments/"+uuid.NewString(), "", s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/appointments?child_id=nope", "", s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PaymentCallback(t *testing.T) {
	s := newServer()
	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec).ID

	callback := func(body, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(payment.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		s.echo.ServeHTTP(rec, req)
		return rec
	}

	body := fmt.Sprintf(`{"appointment_id":%q,"outcome":"SUCCEEDED","method":"CARD","reference":"ch_9"}`, id)
	assert.Equal(t, http.StatusUnauthorized, callback(body, "deadbeef").Code)

	rec = callback(body, s.verifier.Sign([]byte(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"PAID"`)

	// A redelivered callback is accepted without enrolling twice.
	rec = callback(body, s.verifier.Sign([]byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	enrollments, err := s.store.Enrollments().ListByChild(context.Background(), s.demo.ChildID)
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestHandler_PaymentCallbackFailed(t *testing.T) {
	s := newServer()
	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
	id := decode(t, rec).ID

	body := fmt.Sprintf(`{"appointment_id":%q,"outcome":"FAILED","reason":"insufficient funds"}`, id)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(body))
	req.Header.Set(payment.SignatureHeader, s.verifier.Sign([]byte(body)))
	out := httptest.NewRecorder()
	s.echo.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	assert.Contains(t, out.Body.String(), `"status":"FAILED"`)
}

func TestHandler_ClinicalFlow(t *testing.T) {
	s := newServer()
	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(true), s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusCreated, rec.Code)
	a := decode(t, rec)
	entry := a.Entries[0].ID.String()
	base := "/api/v1/appointments/" + a.ID.String()

	rec = s.do(http.MethodPost, base+"/check-in", "", s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/clinician", `{}`, s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, base+"/clinician", fmt.Sprintf(`{"clinician_id":%q}`, s.demo.DoctorID), s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/entries/"+entry+"/assessment", `{"approved":true}`, s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/entries/"+entry+"/assessment", `{"approved":true}`, s.demo.DoctorID, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusWithNurse, decode(t, rec).Status)

	rec = s.do(http.MethodPost, "/api/v1/entries/"+entry+"/administration", `{"batch_number":"HB-1","site":"left thigh"}`, s.demo.NurseID, auth.RoleNurse)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusInObservation, decode(t, rec).Status)

	rec = s.do(http.MethodPost, base+"/observation", "", s.demo.ObserverID, auth.RoleObserver)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/entries/"+entry+"/observation/complete", `{"outcome":"fine"}`, s.demo.ObserverID, auth.RoleObserver)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":4007`)
}

func TestHandler_CancelAndReplay(t *testing.T) {
	s := newServer()
	rec := s.do(http.MethodPost, "/api/v1/appointments", s.bookBody(false), s.demo.ReceptionistID, auth.RoleReceptionist)
	a := decode(t, rec)
	base := "/api/v1/appointments/" + a.ID.String()

	rec = s.do(http.MethodPost, base+"/pending/replay", "", s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, base+"/pending", "", s.demo.NurseID, auth.RoleNurse)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), `"kind":"NEW_VACCINE"`)

	rec = s.do(http.MethodPost, base+"/payment", `{"method":"CASH","reference":"R-1"}`, s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, base+"/pending", "", s.demo.NurseID, auth.RoleNurse)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = s.do(http.MethodGet, "/api/v1/appointments/"+uuid.NewString()+"/pending", "", s.demo.NurseID, auth.RoleNurse)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, base+"/pending/replay", "", s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":0,"failed":[]}`, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/cancel", `{"reason":"unwell"}`, s.demo.ReceptionistID, auth.RoleReceptionist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	assert.Contains(t, got.Notes, "unwell")

	rec = s.do(http.MethodPost, base+"/no-show", "", s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "day has not passed")
	rec = s.do(http.MethodPost, base+"/absent", "", s.demo.ReceptionistID, auth.RoleReceptionist)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
