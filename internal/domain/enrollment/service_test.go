package enrollment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

func enrolledMMR(t *testing.T, f *fixture) enrollment.Link {
	t.Helper()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})
	var link enrollment.Link
	_, err := f.engine.Drain(context.Background(), tgt, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)
	return link
}

func TestService_RescheduleDose(t *testing.T) {
	f := newFixture()
	link := enrolledMMR(t, f)
	svc := enrollment.NewService(f.store.Enrollments(), f.store.Doses(), f.store, time.UTC, zerolog.Nop())

	doses := f.doses(t, link.EnrollmentID)
	future := dosing.DateOnly(time.Now()).AddDate(0, 1, 0)

	got, err := svc.RescheduleDose(context.Background(), doses[1].ID, future)
	require.NoError(t, err)
	assert.Equal(t, dosing.StatusRescheduled, got.Status)
	assert.True(t, future.Equal(*got.ScheduledDate))

	_, err = svc.RescheduleDose(context.Background(), doses[1].ID, time.Now().AddDate(0, 0, -2))
	assert.ErrorIs(t, err, apperr.ErrDateInPast)
}

func TestService_RescheduleCompletedDose(t *testing.T) {
	f := newFixture()
	link := enrolledMMR(t, f)
	svc := enrollment.NewService(f.store.Enrollments(), f.store.Doses(), f.store, nil, zerolog.Nop())

	_, err := f.engine.CompleteDose(context.Background(), link.DoseScheduleID)
	require.NoError(t, err)

	_, err = svc.RescheduleDose(context.Background(), link.DoseScheduleID, time.Now().AddDate(0, 1, 0))
	assert.ErrorIs(t, err, apperr.ErrDoseState)
}

func TestService_ListByChild(t *testing.T) {
	f := newFixture()
	enrolledMMR(t, f)
	svc := enrollment.NewService(f.store.Enrollments(), f.store.Doses(), f.store, nil, zerolog.Nop())

	views, err := svc.ListByChild(context.Background(), f.demo.ChildID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, f.demo.MMRID, views[0].VaccineID)
	assert.Len(t, views[0].Doses, 2)
}

func TestHandler_ListByChild(t *testing.T) {
	f := newFixture()
	enrolledMMR(t, f)
	h := enrollment.NewHandler(enrollment.NewService(f.store.Enrollments(), f.store.Doses(), f.store, nil, zerolog.Nop()))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.demo.ChildID.String())

	require.NoError(t, h.ListByChild(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Enrollments []enrollment.View `json:"enrollments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Enrollments, 1)
	assert.Len(t, body.Enrollments[0].Doses, 2)
}

func TestHandler_RescheduleDose(t *testing.T) {
	f := newFixture()
	link := enrolledMMR(t, f)
	h := enrollment.NewHandler(enrollment.NewService(f.store.Enrollments(), f.store.Doses(), f.store, nil, zerolog.Nop()))
	doses := f.doses(t, link.EnrollmentID)

	e := echo.New()
	send := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(doses[1].ID.String())
		return rec, h.RescheduleDose(c)
	}

	date := dosing.DateOnly(time.Now()).AddDate(0, 0, 10).Format(dosing.DateLayout)
	rec, err := send(`{"date":"` + date + `"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), date)

	_, err = send(`{"date":"10/10/2030"}`)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}
