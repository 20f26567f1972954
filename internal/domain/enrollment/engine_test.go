package enrollment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/store/memory"
)

var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	demo   memory.Demo
	engine *enrollment.Engine
}

func newFixture() *fixture {
	s := memory.New()
	d := memory.SeedDemo(s, anchor)
	e := enrollment.NewEngine(s.Catalog(), s.Enrollments(), s.Doses(), s.Pending(), s, nil, zerolog.Nop())
	return &fixture{store: s, demo: d, engine: e}
}

func (f *fixture) target(date time.Time) enrollment.Target {
	return enrollment.Target{AppointmentID: uuid.New(), ChildID: f.demo.ChildID, Date: date}
}

func (f *fixture) stage(t *testing.T, tgt enrollment.Target, reqs ...enrollment.PendingRequest) {
	t.Helper()
	for i := range reqs {
		reqs[i].AppointmentID = tgt.AppointmentID
		if reqs[i].EntryID == uuid.Nil {
			reqs[i].EntryID = uuid.New()
		}
	}
	require.NoError(t, f.engine.Stage(context.Background(), reqs))
}

func (f *fixture) doses(t *testing.T, enrollmentID uuid.UUID) []*dosing.DoseSchedule {
	t.Helper()
	doses, err := f.store.Doses().ListByEnrollment(context.Background(), enrollmentID)
	require.NoError(t, err)
	return doses
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestDrain_NewVaccine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	entry := uuid.New()
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, EntryID: entry, VaccineID: ptr(f.demo.HepBID)})

	var links []enrollment.Link
	report, err := f.engine.Drain(ctx, tgt, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		links = append(links, out.Primary)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Processed)

	require.Len(t, links, 1)
	assert.Equal(t, entry, links[0].EntryID)
	assert.Equal(t, 1, links[0].DoseNumber)

	enr, err := f.store.Enrollments().GetByID(ctx, links[0].EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 0, enr.CurrentDose)
	assert.Equal(t, 3, enr.TotalDoses)
	assert.False(t, enr.Completed)

	doses := f.doses(t, enr.ID)
	require.Len(t, doses, 3)
	want := []time.Time{day(2024, 1, 1), day(2024, 1, 29), day(2024, 6, 27)}
	for i, d := range doses {
		assert.Equal(t, i+1, d.DoseNumber)
		assert.Equal(t, dosing.StatusScheduled, d.Status)
		require.NotNil(t, d.ScheduledDate)
		assert.True(t, want[i].Equal(*d.ScheduledDate), "dose %d: %s", d.DoseNumber, d.ScheduledDate)
	}
	assert.True(t, doses[0].Paid)
	assert.False(t, doses[1].Paid)
	assert.Equal(t, links[0].DoseScheduleID, doses[0].ID)

	pending, err := f.engine.Pending(ctx, tgt.AppointmentID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrain_ConfigurationGapLeavesDoseUnscheduled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.DTaPID)})

	var link enrollment.Link
	report, err := f.engine.Drain(ctx, tgt, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	doses := f.doses(t, link.EnrollmentID)
	require.Len(t, doses, 3)
	assert.Equal(t, dosing.StatusScheduled, doses[1].Status)
	assert.Equal(t, dosing.StatusUnscheduled, doses[2].Status)
	assert.Nil(t, doses[2].ScheduledDate)
}

func TestDrain_NextDose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.target(anchor)
	f.stage(t, first, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})
	var link enrollment.Link
	_, err := f.engine.Drain(ctx, first, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)
	doses := f.doses(t, link.EnrollmentID)
	require.Len(t, doses, 2)

	visit := day(2024, 7, 15)
	second := f.target(visit)
	f.stage(t, second, enrollment.PendingRequest{
		Kind:           enrollment.KindNextDose,
		EnrollmentID:   ptr(link.EnrollmentID),
		DoseScheduleID: ptr(doses[1].ID),
		DoseNumber:     2,
	})
	report, err := f.engine.Drain(ctx, second, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	dose, err := f.store.Doses().GetByID(ctx, doses[1].ID)
	require.NoError(t, err)
	assert.Equal(t, dosing.StatusScheduled, dose.Status)
	assert.True(t, dose.Paid)
	assert.True(t, visit.Equal(*dose.ScheduledDate))

	enr, err := f.store.Enrollments().GetByID(ctx, link.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 2, enr.CurrentDose)
	assert.True(t, enr.Completed)
	assert.NoError(t, enr.Check())
}

func TestDrain_NextDoseOtherChild(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.target(anchor)
	f.stage(t, first, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})
	var link enrollment.Link
	_, err := f.engine.Drain(ctx, first, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)

	other := enrollment.Target{AppointmentID: uuid.New(), ChildID: uuid.New(), Date: anchor}
	_, err = f.engine.Process(ctx, other, enrollment.PendingRequest{
		Kind:           enrollment.KindNextDose,
		EntryID:        uuid.New(),
		EnrollmentID:   ptr(link.EnrollmentID),
		DoseScheduleID: ptr(link.DoseScheduleID),
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDrain_ComboCreatesEnrollmentsAndExtraEntries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindCombo, ComboID: ptr(f.demo.ComboID)})

	var out *enrollment.Outcome
	report, err := f.engine.Drain(ctx, tgt, func(_ context.Context, _ enrollment.PendingRequest, o *enrollment.Outcome) error {
		out = o
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.NotNil(t, out)
	require.Len(t, out.Extra, 1)
	assert.Equal(t, f.demo.HepBID, out.Extra[0].VaccineID)
	assert.Equal(t, f.demo.ComboID, out.Extra[0].ComboID)

	dtap, err := f.store.Enrollments().GetByID(ctx, out.Primary.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, f.demo.DTaPID, dtap.VaccineID)
	assert.Equal(t, 2, dtap.TotalDoses, "combo dose count overrides the standalone series")
	assert.True(t, dtap.FromCombo)

	hepB, err := f.store.Enrollments().GetByID(ctx, out.Extra[0].EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 3, hepB.TotalDoses)

	for _, id := range []uuid.UUID{dtap.ID, hepB.ID} {
		doses := f.doses(t, id)
		assert.Equal(t, dosing.StatusScheduled, doses[0].Status)
		assert.True(t, doses[0].Paid)
		for _, d := range doses[1:] {
			assert.Equal(t, dosing.StatusUnscheduled, d.Status)
			assert.Nil(t, d.ScheduledDate)
			assert.False(t, d.Paid)
		}
	}
}

func TestDrain_ComboReusesEnrollment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.target(anchor)
	f.stage(t, first, enrollment.PendingRequest{Kind: enrollment.KindCombo, ComboID: ptr(f.demo.ComboID)})
	_, err := f.engine.Drain(ctx, first, nil)
	require.NoError(t, err)

	visit := day(2024, 3, 1)
	second := f.target(visit)
	f.stage(t, second, enrollment.PendingRequest{Kind: enrollment.KindCombo, ComboID: ptr(f.demo.ComboID)})
	var out *enrollment.Outcome
	_, err = f.engine.Drain(ctx, second, func(_ context.Context, _ enrollment.PendingRequest, o *enrollment.Outcome) error {
		out = o
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 2, out.Primary.DoseNumber)

	all, err := f.store.Enrollments().ListByChild(ctx, f.demo.ChildID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "no duplicate enrollments for the same combo vaccine")

	dose, err := f.store.Doses().GetByID(ctx, out.Primary.DoseScheduleID)
	require.NoError(t, err)
	assert.True(t, dose.Paid)
	assert.True(t, visit.Equal(*dose.ScheduledDate))
}

func TestDrain_PartialFailureContinues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt,
		enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(uuid.New())},
		enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)},
	)

	report, err := f.engine.Drain(ctx, tgt, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Err(), apperr.ErrVaccineNotFound)

	pending, err := f.engine.Pending(ctx, tgt.AppointmentID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)

	all, err := f.store.Enrollments().ListByChild(ctx, f.demo.ChildID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDrain_ApplyFailureRollsBackRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})

	report, err := f.engine.Drain(ctx, tgt, func(context.Context, enrollment.PendingRequest, *enrollment.Outcome) error {
		return apperr.ErrEntryNotFound
	})
	require.NoError(t, err)
	assert.Len(t, report.Failed, 1)

	all, err := f.store.Enrollments().ListByChild(ctx, f.demo.ChildID)
	require.NoError(t, err)
	assert.Empty(t, all, "enrollment rows roll back with the failed request")
}

func TestDrain_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt,
		enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.HepBID)},
		enrollment.PendingRequest{Kind: enrollment.KindCombo, ComboID: ptr(f.demo.ComboID)},
	)

	_, err := f.engine.Drain(ctx, tgt, nil)
	require.NoError(t, err)
	before, err := f.store.Enrollments().ListByChild(ctx, f.demo.ChildID)
	require.NoError(t, err)

	report, err := f.engine.Drain(ctx, tgt, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	after, err := f.store.Enrollments().ListByChild(ctx, f.demo.ChildID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Len(t, after, 3)

	for _, e := range after {
		assert.NoError(t, e.Check())
		seen := map[int]bool{}
		for _, d := range f.doses(t, e.ID) {
			assert.False(t, seen[d.DoseNumber], "duplicate dose number %d", d.DoseNumber)
			seen[d.DoseNumber] = true
			assert.GreaterOrEqual(t, d.DoseNumber, 1)
			assert.LessOrEqual(t, d.DoseNumber, e.TotalDoses)
		}
	}
}

func TestStage_RejectsIncompleteRequest(t *testing.T) {
	f := newFixture()
	err := f.engine.Stage(context.Background(), []enrollment.PendingRequest{{Kind: enrollment.KindNextDose, EntryID: uuid.New()}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompleteDose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})
	var link enrollment.Link
	_, err := f.engine.Drain(ctx, tgt, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)

	enr, err := f.engine.CompleteDose(ctx, link.DoseScheduleID)
	require.NoError(t, err)
	assert.Equal(t, 1, enr.CurrentDose)
	assert.False(t, enr.Completed)

	dose, err := f.store.Doses().GetByID(ctx, link.DoseScheduleID)
	require.NoError(t, err)
	assert.Equal(t, dosing.StatusCompleted, dose.Status)

	assert.ErrorIs(t, f.engine.DelayDose(ctx, link.DoseScheduleID), apperr.ErrDoseState)
}

func TestCompleteDose_RejectsCompletedDose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	f.stage(t, tgt, enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID)})
	var link enrollment.Link
	_, err := f.engine.Drain(ctx, tgt, func(_ context.Context, _ enrollment.PendingRequest, out *enrollment.Outcome) error {
		link = out.Primary
		return nil
	})
	require.NoError(t, err)
	_, err = f.engine.CompleteDose(ctx, link.DoseScheduleID)
	require.NoError(t, err)

	_, err = f.engine.CompleteDose(ctx, link.DoseScheduleID)
	assert.ErrorIs(t, err, apperr.ErrDoseState)

	enr, err := f.store.Enrollments().GetByID(ctx, link.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 1, enr.CurrentDose)
}

func TestWithdraw(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tgt := f.target(anchor)
	keep, drop := uuid.New(), uuid.New()
	f.stage(t, tgt,
		enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.MMRID), EntryID: keep},
		enrollment.PendingRequest{Kind: enrollment.KindNewVaccine, VaccineID: ptr(f.demo.HepBID), EntryID: drop},
	)

	n, err := f.engine.Withdraw(ctx, tgt.AppointmentID, drop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.engine.Pending(ctx, tgt.AppointmentID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, keep, pending[0].EntryID)

	n, err = f.engine.Withdraw(ctx, tgt.AppointmentID, drop)
	require.NoError(t, err)
	assert.Zero(t, n)
}
