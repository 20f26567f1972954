// Package appointment runs a vaccination visit from booking through
// payment, check-in, assessment, administration and observation.
package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/directory"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
	"github.com/vaxtrack/vaxtrack/internal/platform/metrics"
)

// Enrollments is the enrollment engine as the workflow uses it.
type Enrollments interface {
	Stage(ctx context.Context, reqs []enrollment.PendingRequest) error
	Discard(ctx context.Context, appointmentID uuid.UUID) (int, error)
	Pending(ctx context.Context, appointmentID uuid.UUID) ([]enrollment.PendingRequest, error)
	Withdraw(ctx context.Context, appointmentID, entryID uuid.UUID) (int, error)
	Drain(ctx context.Context, target enrollment.Target, apply enrollment.ApplyFunc) (*enrollment.DrainReport, error)
	ResolveDose(ctx context.Context, childID, enrollmentID, doseID uuid.UUID) (*enrollment.Enrollment, *dosing.DoseSchedule, error)
	CompleteDose(ctx context.Context, doseID uuid.UUID) (*enrollment.Enrollment, error)
	DelayDose(ctx context.Context, doseID uuid.UUID) error
}

// SlotReserver books capacity in a slot band.
type SlotReserver interface {
	Reserve(ctx context.Context, clinicianID *uuid.UUID, date time.Time, label slot.Label, fn slot.ReserveFunc) error
}

// DefaultObservationPeriod is how long a child is watched after vaccination.
const DefaultObservationPeriod = 30 * time.Minute

type Deps struct {
	Repo              Repository
	Directory         directory.Repository
	Catalog           catalog.Reader
	Enrollments       Enrollments
	Slots             SlotReserver
	Tx                db.TxRunner
	Metrics           *metrics.Recorder
	Logger            zerolog.Logger
	Now               func() time.Time
	Location          *time.Location
	ObservationPeriod time.Duration
}

// Workflow is the appointment state machine. Every operation re-reads the
// appointment under a row lock and checks its current status first.
type Workflow struct {
	repo        Repository
	directory   directory.Repository
	catalog     catalog.Reader
	enrollments Enrollments
	slots       SlotReserver
	tx          db.TxRunner
	metrics     *metrics.Recorder
	logger      zerolog.Logger
	now         func() time.Time
	loc         *time.Location
	observation time.Duration
}

func NewWorkflow(d Deps) *Workflow {
	w := &Workflow{
		repo:        d.Repo,
		directory:   d.Directory,
		catalog:     d.Catalog,
		enrollments: d.Enrollments,
		slots:       d.Slots,
		tx:          d.Tx,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         d.Now,
		loc:         d.Location,
		observation: d.ObservationPeriod,
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.loc == nil {
		w.loc = time.UTC
	}
	if w.observation <= 0 {
		w.observation = DefaultObservationPeriod
	}
	return w
}

func (w *Workflow) today() time.Time { return dosing.Today(w.now(), w.loc) }

// Selection is one vaccine choice made at booking.
type Selection struct {
	Kind           enrollment.RequestKind `json:"kind"`
	VaccineID      *uuid.UUID             `json:"vaccine_id,omitempty"`
	ComboID        *uuid.UUID             `json:"combo_id,omitempty"`
	EnrollmentID   *uuid.UUID             `json:"enrollment_id,omitempty"`
	DoseScheduleID *uuid.UUID             `json:"dose_schedule_id,omitempty"`
	DoseNumber     int                    `json:"dose_number,omitempty"`
}

type BookRequest struct {
	ChildID     uuid.UUID
	ClinicianID *uuid.UUID
	Date        time.Time
	Slot        slot.Label
	PaymentMode PaymentMode
	Prepaid     bool
	Notes       string
	Selections  []Selection
}

// resolved is a selection with its entry, price and payment state.
type resolved struct {
	entry   Entry
	request enrollment.PendingRequest
	price   decimal.Decimal
	paid    bool
}

// Book creates an appointment in a slot band.
//
// The initial status is PAID when the booking is prepaid or every selection
// is an already paid dose, PENDING for online payment and OFFLINE_PAYMENT
// otherwise. Selections are staged as pending requests; a PAID booking drains
// them before returning.
func (w *Workflow) Book(ctx context.Context, actor uuid.UUID, req BookRequest) (*Appointment, error) {
	if len(req.Selections) == 0 {
		return nil, apperr.ErrValidation.Withf("at least one vaccine selection is required")
	}
	if !req.PaymentMode.Valid() {
		return nil, apperr.ErrValidation.Withf("unknown payment mode %q", req.PaymentMode)
	}
	date := dosing.DateOnly(req.Date)
	if date.Before(w.today()) {
		return nil, apperr.ErrDateInPast.Withf("%s", date.Format(dosing.DateLayout))
	}

	child, err := w.directory.GetChild(ctx, req.ChildID)
	if err != nil {
		return nil, err
	}

	items := make([]resolved, 0, len(req.Selections))
	allPaid := true
	total := decimal.Zero
	for _, sel := range req.Selections {
		r, err := w.resolve(ctx, child.ID, sel)
		if err != nil {
			return nil, err
		}
		if !r.paid {
			allPaid = false
			total = total.Add(r.price)
		}
		items = append(items, r)
	}

	a := &Appointment{
		ID:          uuid.New(),
		ChildID:     child.ID,
		GuardianID:  child.GuardianID,
		Date:        date,
		Slot:        req.Slot,
		PaymentMode: req.PaymentMode,
		TotalAmount: total,
		Notes:       req.Notes,
	}
	switch {
	case req.Prepaid || allPaid:
		a.Status = StatusPaid
		a.Paid = true
	case req.PaymentMode == PaymentOnline:
		a.Status = StatusPending
	default:
		a.Status = StatusOfflinePayment
	}

	err = w.slots.Reserve(ctx, req.ClinicianID, date, req.Slot, func(ctx context.Context, clinicianID uuid.UUID) error {
		a.SlotClinicianID = clinicianID
		reqs := make([]enrollment.PendingRequest, 0, len(items))
		a.Entries = make([]Entry, 0, len(items))
		for _, it := range items {
			it.entry.AppointmentID = a.ID
			it.request.AppointmentID = a.ID
			a.Entries = append(a.Entries, it.entry)
			reqs = append(reqs, it.request)
		}
		if err := w.repo.Create(ctx, a); err != nil {
			return err
		}
		if err := w.enrollments.Stage(ctx, reqs); err != nil {
			return err
		}
		if a.Paid {
			return w.drain(ctx, a)
		}
		return nil
	})
	if err != nil {
		w.metrics.Booking(apperr.KindOf(err).String())
		return nil, err
	}
	w.metrics.Booking("booked")

	w.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("actor_id", actor.String()).
		Str("clinician_id", a.SlotClinicianID.String()).
		Str("date", date.Format(dosing.DateLayout)).
		Str("slot", string(a.Slot)).
		Str("status", string(a.Status)).
		Msg("appointment booked")
	return w.repo.GetByID(ctx, a.ID)
}

func (w *Workflow) resolve(ctx context.Context, childID uuid.UUID, sel Selection) (resolved, error) {
	entryID := uuid.New()
	r := resolved{
		entry: Entry{ID: entryID, Status: EntryPending},
		request: enrollment.PendingRequest{
			EntryID:        entryID,
			Kind:           sel.Kind,
			VaccineID:      sel.VaccineID,
			ComboID:        sel.ComboID,
			EnrollmentID:   sel.EnrollmentID,
			DoseScheduleID: sel.DoseScheduleID,
			DoseNumber:     sel.DoseNumber,
		},
	}
	if err := r.request.Validate(); err != nil {
		return r, err
	}

	switch sel.Kind {
	case enrollment.KindNewVaccine:
		v, err := w.catalog.GetVaccine(ctx, *sel.VaccineID)
		if err != nil {
			return r, err
		}
		r.entry.VaccineID = &v.ID
		r.entry.DoseNumber = 1
		r.price = v.Price
	case enrollment.KindNextDose:
		enr, dose, err := w.enrollments.ResolveDose(ctx, childID, *sel.EnrollmentID, *sel.DoseScheduleID)
		if err != nil {
			return r, err
		}
		v, err := w.catalog.GetVaccine(ctx, enr.VaccineID)
		if err != nil {
			return r, err
		}
		r.entry.VaccineID = &v.ID
		r.entry.EnrollmentID = &enr.ID
		r.entry.DoseScheduleID = &dose.ID
		r.entry.DoseNumber = dose.DoseNumber
		r.price = v.Price
		r.paid = dose.Paid
	case enrollment.KindCombo:
		c, err := w.catalog.GetCombo(ctx, *sel.ComboID)
		if err != nil {
			return r, err
		}
		r.entry.ComboID = &c.ID
		r.entry.DoseNumber = 1
		r.price = c.Price
	}
	return r, nil
}

// drain turns a's pending requests into enrollments and links the entries.
// Requests that fail stay queued and are reported in the log.
func (w *Workflow) drain(ctx context.Context, a *Appointment) error {
	target := enrollment.Target{AppointmentID: a.ID, ChildID: a.ChildID, Date: a.Date}
	report, err := w.enrollments.Drain(ctx, target, w.applyOutcome(a))
	if err != nil {
		return err
	}
	if ferr := report.Err(); ferr != nil {
		w.logger.Warn().Err(ferr).
			Str("appointment_id", a.ID.String()).
			Int("failed", len(report.Failed)).
			Msg("pending vaccine requests left queued")
	}
	return nil
}

func (w *Workflow) applyOutcome(a *Appointment) enrollment.ApplyFunc {
	return func(ctx context.Context, req enrollment.PendingRequest, out *enrollment.Outcome) error {
		e := a.Entry(out.Primary.EntryID)
		if e == nil {
			return apperr.ErrEntryNotFound.Withf("%s", out.Primary.EntryID)
		}
		linked := *e
		linked.EnrollmentID = &out.Primary.EnrollmentID
		linked.DoseScheduleID = &out.Primary.DoseScheduleID
		linked.DoseNumber = out.Primary.DoseNumber
		if err := w.repo.UpdateEntry(ctx, &linked); err != nil {
			return err
		}
		for _, x := range out.Extra {
			extra := &Entry{
				ID:             uuid.New(),
				AppointmentID:  a.ID,
				VaccineID:      &x.VaccineID,
				EnrollmentID:   &x.EnrollmentID,
				DoseScheduleID: &x.DoseScheduleID,
				DoseNumber:     x.DoseNumber,
				Status:         EntryPending,
				FromCombo:      true,
			}
			if err := w.repo.AddEntry(ctx, extra); err != nil {
				return err
			}
		}
		return nil
	}
}

// Proof identifies a settled payment.
type Proof struct {
	Method    string `json:"method"`
	Reference string `json:"reference"`
}

// ConfirmPayment drains the appointment's pending requests and marks it PAID.
// Confirming an appointment that is already paid is a no-op, so a gateway
// callback racing a cash confirmation enrolls only once.
func (w *Workflow) ConfirmPayment(ctx context.Context, id uuid.UUID, proof Proof) (*Appointment, error) {
	var out *Appointment
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := w.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Paid {
			w.logger.Debug().Str("appointment_id", id.String()).Msg("payment already confirmed")
			out = a
			return nil
		}
		if !CanTransition(a.Status, StatusPaid) {
			return apperr.InvalidTransition(a.Status, StatusPaid)
		}
		if err := w.drain(ctx, a); err != nil {
			return err
		}

		a, err = w.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		a.PaymentReference = strings.TrimSpace(proof.Method + " " + proof.Reference)
		if err := w.move(ctx, a, StatusPaid); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FailPayment records a gateway failure for an online booking.
func (w *Workflow) FailPayment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.Paid {
			return apperr.InvalidTransition(a.Status, StatusFailed)
		}
		if err := w.move(ctx, a, StatusFailed); err != nil {
			return err
		}
		_, err := w.enrollments.Discard(ctx, a.ID)
		w.logger.Warn().Str("appointment_id", a.ID.String()).Str("reason", reason).Msg("payment failed")
		return err
	})
}

// CheckIn registers arrival on the appointment day. An unpaid appointment
// moves to AWAITING_PAYMENT, a paid one to CHECKED_IN.
func (w *Workflow) CheckIn(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if !a.Date.Equal(w.today()) {
			return apperr.ErrNotToday.Withf("booked for %s", a.Date.Format(dosing.DateLayout))
		}
		to := StatusAwaitingPayment
		if a.Paid {
			to = StatusCheckedIn
		}
		return w.move(ctx, a, to, actor)
	})
}

// AssignClinician hands a checked-in child to a doctor.
func (w *Workflow) AssignClinician(ctx context.Context, id, clinicianID, actor uuid.UUID) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.Status != StatusCheckedIn {
			return apperr.InvalidTransition(a.Status, StatusWithDoctor)
		}
		if err := w.requireCapability(ctx, clinicianID, directory.CapabilityDoctor); err != nil {
			return err
		}
		a.ClinicianID = &clinicianID
		return w.move(ctx, a, StatusWithDoctor, actor)
	})
}

// AssessmentInput is the doctor's decision on one entry.
type AssessmentInput struct {
	Approved bool              `json:"approved"`
	Notes    string            `json:"notes"`
	Findings map[string]string `json:"findings"`
}

// RecordHealthAssessment records the assigned doctor's decision on an entry.
// Once every entry is decided the appointment moves to WITH_NURSE when any
// entry was approved and to COMPLETED otherwise.
//
// An entry whose vaccine request is still queued cannot be approved. Staff
// replay requests before assigning a clinician; once assessment has begun the
// entry can only be rejected, which withdraws the request.
func (w *Workflow) RecordHealthAssessment(ctx context.Context, entryID, actor uuid.UUID, in AssessmentInput) (*Appointment, error) {
	return w.mutateByEntry(ctx, entryID, func(ctx context.Context, a *Appointment, e *Entry) error {
		if a.Status != StatusWithDoctor {
			return apperr.ErrInvalidTransition.Withf("assessment requires %s, appointment is %s", StatusWithDoctor, a.Status)
		}
		if a.ClinicianID == nil || *a.ClinicianID != actor {
			return apperr.ErrMissingCapability.Withf("%s is not the assigned clinician", actor)
		}
		if e.Status != EntryPending {
			return apperr.ErrEntryState.Withf("entry %s is %s", e.ID, e.Status)
		}
		queued, err := w.queued(ctx, a.ID, e.ID)
		if err != nil {
			return err
		}
		if in.Approved && (queued || e.DoseScheduleID == nil) {
			return apperr.ErrEntryState.Withf("entry %s has no enrolled dose and can only be rejected", e.ID)
		}

		e.Assessment = &Assessment{
			ClinicianID: actor,
			Approved:    in.Approved,
			Notes:       in.Notes,
			Findings:    in.Findings,
			AssessedAt:  w.now(),
		}
		switch {
		case in.Approved:
			e.Status = EntryApproved
		case queued:
			e.Status = EntryRejected
			if _, err := w.enrollments.Withdraw(ctx, a.ID, e.ID); err != nil {
				return err
			}
		default:
			e.Status = EntryRejected
			if e.DoseScheduleID != nil {
				if err := w.enrollments.DelayDose(ctx, *e.DoseScheduleID); err != nil {
					return err
				}
			}
		}
		if err := w.repo.UpdateEntry(ctx, e); err != nil {
			return err
		}

		if !a.AllDecided() {
			return nil
		}
		if a.AnyApproved() {
			return w.move(ctx, a, StatusWithNurse, actor)
		}
		return w.move(ctx, a, StatusCompleted, actor)
	})
}

// AdministrationInput describes the dose given.
type AdministrationInput struct {
	BatchNumber string `json:"batch_number"`
	Site        string `json:"site"`
	Route       string `json:"route"`
}

// AdministerDose records that a nurse gave an approved entry's dose. The dose
// row is completed and the enrollment advanced; when no approved entry is
// left the appointment moves to IN_OBSERVATION.
func (w *Workflow) AdministerDose(ctx context.Context, entryID, nurseID uuid.UUID, in AdministrationInput) (*Appointment, error) {
	return w.mutateByEntry(ctx, entryID, func(ctx context.Context, a *Appointment, e *Entry) error {
		if a.Status != StatusWithNurse {
			return apperr.ErrInvalidTransition.Withf("administration requires %s, appointment is %s", StatusWithNurse, a.Status)
		}
		if e.Status != EntryApproved {
			return apperr.ErrEntryState.Withf("entry %s is %s", e.ID, e.Status)
		}
		if e.DoseScheduleID == nil {
			return apperr.ErrEntryState.Withf("entry %s has no booked dose", e.ID)
		}
		if queued, err := w.queued(ctx, a.ID, e.ID); err != nil {
			return err
		} else if queued {
			return apperr.ErrEntryState.Withf("entry %s has an unprocessed vaccine request", e.ID)
		}
		if strings.TrimSpace(in.BatchNumber) == "" {
			return apperr.ErrValidation.Withf("batch number is required")
		}
		if err := w.requireCapability(ctx, nurseID, directory.CapabilityNurse); err != nil {
			return err
		}

		enr, err := w.enrollments.CompleteDose(ctx, *e.DoseScheduleID)
		if err != nil {
			return err
		}
		e.Status = EntryVaccinated
		e.Administration = &Administration{
			NurseID:        nurseID,
			BatchNumber:    in.BatchNumber,
			Site:           in.Site,
			Route:          in.Route,
			AdministeredAt: w.now(),
		}
		if err := w.repo.UpdateEntry(ctx, e); err != nil {
			return err
		}
		w.logger.Info().
			Str("appointment_id", a.ID.String()).
			Str("entry_id", e.ID.String()).
			Str("enrollment_id", enr.ID.String()).
			Int("dose", e.DoseNumber).
			Bool("series_completed", enr.Completed).
			Msg("dose administered")

		if a.AllApprovedVaccinated() {
			return w.move(ctx, a, StatusInObservation, nurseID)
		}
		return nil
	})
}

// StartObservation starts the observation clock on every vaccinated entry
// that is not already being observed.
func (w *Workflow) StartObservation(ctx context.Context, id, staffID uuid.UUID) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if a.Status != StatusInObservation {
			return apperr.ErrInvalidTransition.Withf("observation requires %s, appointment is %s", StatusInObservation, a.Status)
		}
		if err := w.requireCapability(ctx, staffID, directory.CapabilityObserver); err != nil {
			return err
		}
		now := w.now()
		for i := range a.Entries {
			e := &a.Entries[i]
			if e.Status != EntryVaccinated || e.Observation != nil {
				continue
			}
			e.Observation = &Observation{StaffID: staffID, StartedAt: now}
			if err := w.repo.UpdateEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ObservationInput closes an observation record.
type ObservationInput struct {
	Vitals  map[string]string `json:"vitals"`
	Outcome string            `json:"outcome"`
}

// CompleteObservation closes one entry's observation once the minimum period
// has elapsed. The appointment is COMPLETED when every vaccinated entry is.
func (w *Workflow) CompleteObservation(ctx context.Context, entryID, staffID uuid.UUID, in ObservationInput) (*Appointment, error) {
	return w.mutateByEntry(ctx, entryID, func(ctx context.Context, a *Appointment, e *Entry) error {
		if a.Status != StatusInObservation {
			return apperr.ErrInvalidTransition.Withf("observation requires %s, appointment is %s", StatusInObservation, a.Status)
		}
		if e.Observation == nil || e.Observation.Done() {
			return apperr.ErrEntryState.Withf("entry %s has no open observation", e.ID)
		}
		if err := w.requireCapability(ctx, staffID, directory.CapabilityObserver); err != nil {
			return err
		}
		now := w.now()
		if elapsed := now.Sub(e.Observation.StartedAt); elapsed < w.observation {
			return apperr.ErrObservationTooShort.Withf("%s of %s", elapsed.Round(time.Second), w.observation)
		}

		e.Observation.CompletedAt = &now
		e.Observation.Vitals = in.Vitals
		e.Observation.Outcome = in.Outcome
		if err := w.repo.UpdateEntry(ctx, e); err != nil {
			return err
		}
		if a.AllObserved() {
			return w.move(ctx, a, StatusCompleted, staffID)
		}
		return nil
	})
}

// Cancel cancels an appointment before check-in and drops its staged requests.
func (w *Workflow) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if !CanTransition(a.Status, StatusCancelled) {
			return apperr.InvalidTransition(a.Status, StatusCancelled)
		}
		if reason != "" {
			a.Notes = strings.TrimSpace(a.Notes + "\ncancelled: " + reason)
		}
		if err := w.move(ctx, a, StatusCancelled, actor); err != nil {
			return err
		}
		_, err := w.enrollments.Discard(ctx, a.ID)
		return err
	})
}

// MarkNoShow closes an appointment whose day passed without check-in.
func (w *Workflow) MarkNoShow(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		if !a.Date.Before(w.today()) {
			return apperr.ErrValidation.Withf("appointment day %s has not passed", a.Date.Format(dosing.DateLayout))
		}
		if err := w.move(ctx, a, StatusNoShow, actor); err != nil {
			return err
		}
		_, err := w.enrollments.Discard(ctx, a.ID)
		return err
	})
}

// MarkAbsent records a checked-in child who left before being seen.
func (w *Workflow) MarkAbsent(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return w.mutate(ctx, id, func(ctx context.Context, a *Appointment) error {
		return w.move(ctx, a, StatusAbsent, actor)
	})
}

// ReplayPending retries requests a previous drain left queued. It runs only
// before the doctor sees the child, while every entry is still undecided.
func (w *Workflow) ReplayPending(ctx context.Context, id, actor uuid.UUID) (*enrollment.DrainReport, error) {
	var report *enrollment.DrainReport
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := w.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusPaid && a.Status != StatusCheckedIn {
			return apperr.ErrInvalidTransition.Withf("cannot replay pending requests of a %s appointment", a.Status)
		}
		target := enrollment.Target{AppointmentID: a.ID, ChildID: a.ChildID, Date: a.Date}
		report, err = w.enrollments.Drain(ctx, target, w.applyOutcome(a))
		return err
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info().
		Str("appointment_id", id.String()).
		Str("actor_id", actor.String()).
		Int("processed", report.Processed).
		Int("failed", len(report.Failed)).
		Msg("pending vaccine requests replayed")
	return report, nil
}

// Pending lists the vaccine requests still queued for an appointment.
func (w *Workflow) Pending(ctx context.Context, id uuid.UUID) ([]enrollment.PendingRequest, error) {
	if _, err := w.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return w.enrollments.Pending(ctx, id)
}

// queued reports whether a request for entryID is still waiting to be drained.
func (w *Workflow) queued(ctx context.Context, appointmentID, entryID uuid.UUID) (bool, error) {
	reqs, err := w.enrollments.Pending(ctx, appointmentID)
	if err != nil {
		return false, err
	}
	for _, req := range reqs {
		if req.EntryID == entryID {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return w.repo.GetByID(ctx, id)
}

func (w *Workflow) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.ErrValidation.Withf("unknown status %q", f.Status)
	}
	return w.repo.List(ctx, f)
}

// mutate runs fn on the locked appointment and returns its fresh state.
func (w *Workflow) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := w.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return w.repo.GetByID(ctx, id)
}

func (w *Workflow) mutateByEntry(ctx context.Context, entryID uuid.UUID, fn func(ctx context.Context, a *Appointment, e *Entry) error) (*Appointment, error) {
	var id uuid.UUID
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := w.repo.GetByEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		id = a.ID
		e := a.Entry(entryID)
		if e == nil {
			return apperr.ErrEntryNotFound.Withf("%s", entryID)
		}
		return fn(ctx, a, e)
	})
	if err != nil {
		return nil, err
	}
	return w.repo.GetByID(ctx, id)
}

// move applies a transition, persists it and records it.
func (w *Workflow) move(ctx context.Context, a *Appointment, to Status, actor ...uuid.UUID) error {
	from := a.Status
	if err := a.Transition(to); err != nil {
		return err
	}
	if err := a.CheckPaid(); err != nil {
		return err
	}
	if err := w.repo.Update(ctx, a); err != nil {
		return err
	}
	w.metrics.Transition(string(from), string(to))

	ev := w.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("from", string(from)).
		Str("to", string(to))
	if len(actor) > 0 {
		ev = ev.Str("actor_id", actor[0].String())
	}
	ev.Msg("appointment status changed")
	return nil
}

func (w *Workflow) requireCapability(ctx context.Context, staffID uuid.UUID, c directory.Capability) error {
	s, err := w.directory.GetStaff(ctx, staffID)
	if err != nil {
		return err
	}
	if !s.Has(c) {
		return apperr.ErrMissingCapability.Withf("%s lacks %s", staffID, c)
	}
	return nil
}
