// Package enrollment turns paid vaccine selections into enrollments and
// dose calendars, and owns the outbox that holds selections until payment.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
	"github.com/vaxtrack/vaxtrack/internal/platform/metrics"
)

// ApplyFunc persists an outcome against the appointment. It runs in the same
// savepoint as the request it belongs to.
type ApplyFunc func(ctx context.Context, req PendingRequest, out *Outcome) error

// Failure is one request a drain could not process.
type Failure struct {
	RequestID uuid.UUID
	Kind      RequestKind
	Err       error
}

// DrainReport summarises a drain. Failed requests remain queued.
type DrainReport struct {
	Processed int
	Failed    []Failure
}

// Err joins the failures, or returns nil when every request succeeded.
func (r *DrainReport) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("request %s (%s): %w", f.RequestID, f.Kind, f.Err))
	}
	return errors.Join(errs...)
}

type Engine struct {
	catalog catalog.Reader
	repo    Repository
	doses   DoseRepository
	pending PendingStore
	tx      db.TxRunner
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

func NewEngine(cat catalog.Reader, repo Repository, doses DoseRepository, pending PendingStore,
	tx db.TxRunner, rec *metrics.Recorder, logger zerolog.Logger) *Engine {
	return &Engine{
		catalog: cat,
		repo:    repo,
		doses:   doses,
		pending: pending,
		tx:      tx,
		metrics: rec,
		logger:  logger,
	}
}

// Stage validates and queues requests for later processing.
func (e *Engine) Stage(ctx context.Context, reqs []PendingRequest) error {
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return err
		}
	}
	return e.pending.Stage(ctx, reqs)
}

// Discard drops every request queued for an appointment.
func (e *Engine) Discard(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	return e.pending.DeleteByAppointment(ctx, appointmentID)
}

// Pending lists what is still queued for an appointment.
func (e *Engine) Pending(ctx context.Context, appointmentID uuid.UUID) ([]PendingRequest, error) {
	return e.pending.ListByAppointment(ctx, appointmentID)
}

// Withdraw drops the requests queued for one entry of an appointment.
func (e *Engine) Withdraw(ctx context.Context, appointmentID, entryID uuid.UUID) (int, error) {
	reqs, err := e.pending.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range reqs {
		if req.EntryID != entryID {
			continue
		}
		if err := e.pending.Delete(ctx, req.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Drain processes every queued request of the target appointment.
//
// Each request runs in its own savepoint together with apply and the removal
// of the request, so a request is consumed exactly when its enrollment rows
// exist. A failing request is rolled back, marked with the error and left
// queued; the remaining requests are still attempted.
func (e *Engine) Drain(ctx context.Context, target Target, apply ApplyFunc) (*DrainReport, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveDrain(time.Since(start)) }()

	reqs, err := e.pending.ListByAppointment(ctx, target.AppointmentID)
	if err != nil {
		return nil, err
	}

	report := &DrainReport{}
	for _, req := range reqs {
		err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
			out, err := e.Process(ctx, target, req)
			if err != nil {
				return err
			}
			if apply != nil {
				if err := apply(ctx, req, out); err != nil {
					return err
				}
			}
			return e.pending.Delete(ctx, req.ID)
		})
		if err == nil {
			report.Processed++
			e.metrics.RequestProcessed(string(req.Kind))
			continue
		}

		if ferr := e.pending.RecordFailure(ctx, req.ID, err.Error()); ferr != nil {
			return report, ferr
		}
		e.metrics.RequestFailed(string(req.Kind))
		e.logger.Error().Err(err).
			Str("appointment_id", target.AppointmentID.String()).
			Str("request_id", req.ID.String()).
			Str("kind", string(req.Kind)).
			Int("attempt", req.Attempts+1).
			Msg("pending vaccine request failed")
		report.Failed = append(report.Failed, Failure{RequestID: req.ID, Kind: req.Kind, Err: err})
	}

	e.logger.Info().
		Str("appointment_id", target.AppointmentID.String()).
		Int("processed", report.Processed).
		Int("failed", len(report.Failed)).
		Msg("pending vaccine requests drained")
	return report, nil
}

// Process converts one request into enrollment and dose rows.
func (e *Engine) Process(ctx context.Context, target Target, req PendingRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch req.Kind {
	case KindNewVaccine:
		return e.processNewVaccine(ctx, target, req)
	case KindNextDose:
		return e.processNextDose(ctx, target, req)
	default:
		return e.processCombo(ctx, target, req)
	}
}

func (e *Engine) processNewVaccine(ctx context.Context, target Target, req PendingRequest) (*Outcome, error) {
	v, err := e.catalog.GetVaccine(ctx, *req.VaccineID)
	if err != nil {
		return nil, err
	}
	intervals, err := e.catalog.ListIntervals(ctx, v.ID)
	if err != nil {
		return nil, err
	}

	enr := &Enrollment{ChildID: target.ChildID, VaccineID: v.ID, TotalDoses: v.TotalDoses}
	first, err := e.enroll(ctx, enr, target.Date, intervals)
	if err != nil {
		return nil, err
	}
	return &Outcome{Primary: Link{
		EntryID:        req.EntryID,
		EnrollmentID:   enr.ID,
		DoseScheduleID: first.ID,
		DoseNumber:     first.DoseNumber,
	}}, nil
}

func (e *Engine) processNextDose(ctx context.Context, target Target, req PendingRequest) (*Outcome, error) {
	enr, dose, err := e.ResolveDose(ctx, target.ChildID, *req.EnrollmentID, *req.DoseScheduleID)
	if err != nil {
		return nil, err
	}
	if req.DoseNumber != 0 && req.DoseNumber != dose.DoseNumber {
		return nil, apperr.ErrValidation.Withf("requested dose %d, schedule row is dose %d", req.DoseNumber, dose.DoseNumber)
	}

	if err := e.bookDose(ctx, enr, dose, target.Date); err != nil {
		return nil, err
	}
	return &Outcome{Primary: Link{
		EntryID:        req.EntryID,
		EnrollmentID:   enr.ID,
		DoseScheduleID: dose.ID,
		DoseNumber:     dose.DoseNumber,
	}}, nil
}

func (e *Engine) processCombo(ctx context.Context, target Target, req PendingRequest) (*Outcome, error) {
	combo, err := e.catalog.GetCombo(ctx, *req.ComboID)
	if err != nil {
		return nil, err
	}
	if len(combo.Items) == 0 {
		return nil, apperr.ErrValidation.Withf("combo %s has no vaccines", combo.ID)
	}

	out := &Outcome{}
	for i, item := range combo.Items {
		enr, dose, err := e.comboDose(ctx, target, combo.ID, item)
		if err != nil {
			return nil, fmt.Errorf("combo vaccine %s: %w", item.VaccineID, err)
		}
		if i == 0 {
			out.Primary = Link{
				EntryID:        req.EntryID,
				EnrollmentID:   enr.ID,
				DoseScheduleID: dose.ID,
				DoseNumber:     dose.DoseNumber,
			}
			continue
		}
		out.Extra = append(out.Extra, ExtraEntry{
			VaccineID:      item.VaccineID,
			ComboID:        combo.ID,
			EnrollmentID:   enr.ID,
			DoseScheduleID: dose.ID,
			DoseNumber:     dose.DoseNumber,
		})
	}
	return out, nil
}

// comboDose reuses the child's enrollment for this combo vaccine, booking its
// next open dose, or starts a new combo-origin series.
func (e *Engine) comboDose(ctx context.Context, target Target, comboID uuid.UUID, item catalog.ComboItem) (*Enrollment, *dosing.DoseSchedule, error) {
	enr, err := e.repo.FindForCombo(ctx, target.ChildID, item.VaccineID, comboID)
	if err != nil {
		return nil, nil, err
	}
	if enr == nil {
		cid := comboID
		enr = &Enrollment{
			ChildID:    target.ChildID,
			VaccineID:  item.VaccineID,
			TotalDoses: item.DoseCount,
			FromCombo:  true,
			ComboID:    &cid,
		}
		first, err := e.enroll(ctx, enr, target.Date, nil)
		if err != nil {
			return nil, nil, err
		}
		return enr, first, nil
	}

	doses, err := e.doses.ListByEnrollment(ctx, enr.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range doses {
		if d.Paid || d.Status.Final() {
			continue
		}
		if err := e.bookDose(ctx, enr, d, target.Date); err != nil {
			return nil, nil, err
		}
		return enr, d, nil
	}
	return nil, nil, apperr.ErrDoseState.Withf("enrollment %s has no open dose", enr.ID)
}

// enroll creates enr and its dose calendar, returning dose 1.
func (e *Engine) enroll(ctx context.Context, enr *Enrollment, anchor time.Time, intervals []dosing.Interval) (*dosing.DoseSchedule, error) {
	plan, err := dosing.Compute(enr.TotalDoses, anchor, intervals, enr.FromCombo)
	if err != nil {
		return nil, err
	}
	if len(plan.Gaps) > 0 {
		e.metrics.ConfigGaps(enr.VaccineID.String(), len(plan.Gaps))
		for _, g := range plan.Gaps {
			e.logger.Warn().
				Str("vaccine_id", enr.VaccineID.String()).
				Int("from_dose", g.FromDose).
				Int("to_dose", g.ToDose).
				Msg(apperr.ErrConfigurationGap.Message)
		}
	}

	if err := e.repo.Create(ctx, enr); err != nil {
		return nil, err
	}
	rows := make([]*dosing.DoseSchedule, 0, len(plan.Doses))
	for _, p := range plan.Doses {
		rows = append(rows, &dosing.DoseSchedule{
			ID:            uuid.New(),
			EnrollmentID:  enr.ID,
			DoseNumber:    p.DoseNumber,
			ScheduledDate: p.ScheduledDate,
			Status:        p.Status,
			Paid:          p.Paid,
		})
	}
	if err := e.doses.CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	return rows[0], nil
}

// bookDose pays dose at date and advances the enrollment to it.
func (e *Engine) bookDose(ctx context.Context, enr *Enrollment, dose *dosing.DoseSchedule, date time.Time) error {
	if err := dose.MarkBooked(date); err != nil {
		return err
	}
	if err := e.doses.Update(ctx, dose); err != nil {
		return err
	}
	if err := enr.Advance(dose.DoseNumber); err != nil {
		return err
	}
	return e.repo.Update(ctx, enr)
}

// CompleteDose records an administered dose: the row becomes COMPLETED and
// the enrollment advances to it.
func (e *Engine) CompleteDose(ctx context.Context, doseID uuid.UUID) (*Enrollment, error) {
	dose, err := e.doses.GetByID(ctx, doseID)
	if err != nil {
		return nil, err
	}
	enr, err := e.repo.GetByID(ctx, dose.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if dose.Status.Final() {
		return nil, apperr.ErrDoseState.Withf("dose %d is %s", dose.DoseNumber, dose.Status)
	}
	dose.Status = dosing.StatusCompleted
	dose.Paid = true
	if err := e.doses.Update(ctx, dose); err != nil {
		return nil, err
	}
	if err := enr.Advance(dose.DoseNumber); err != nil {
		return nil, err
	}
	if err := e.repo.Update(ctx, enr); err != nil {
		return nil, err
	}
	return enr, nil
}

// DelayDose marks a dose DELAYED after a clinician declined to give it.
func (e *Engine) DelayDose(ctx context.Context, doseID uuid.UUID) error {
	dose, err := e.doses.GetByID(ctx, doseID)
	if err != nil {
		return err
	}
	if dose.Status.Final() {
		return apperr.ErrDoseState.Withf("dose %d is %s", dose.DoseNumber, dose.Status)
	}
	dose.Status = dosing.StatusDelayed
	return e.doses.Update(ctx, dose)
}

// ResolveDose loads a dose of an existing enrollment, checking that it
// belongs to childID and can still be booked.
func (e *Engine) ResolveDose(ctx context.Context, childID, enrollmentID, doseID uuid.UUID) (*Enrollment, *dosing.DoseSchedule, error) {
	enr, err := e.repo.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, nil, err
	}
	if enr.ChildID != childID {
		return nil, nil, apperr.ErrValidation.Withf("enrollment %s belongs to another child", enr.ID)
	}
	dose, err := e.doses.GetByID(ctx, doseID)
	if err != nil {
		return nil, nil, err
	}
	if dose.EnrollmentID != enr.ID {
		return nil, nil, apperr.ErrValidation.Withf("dose %s is not part of enrollment %s", dose.ID, enr.ID)
	}
	if dose.Status.Final() {
		return nil, nil, apperr.ErrDoseState.Withf("dose %d is %s", dose.DoseNumber, dose.Status)
	}
	return enr, dose, nil
}
