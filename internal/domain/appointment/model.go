package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusOfflinePayment  Status = "OFFLINE_PAYMENT"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusCheckedIn       Status = "CHECKED_IN"
	StatusWithDoctor      Status = "WITH_DOCTOR"
	StatusWithNurse       Status = "WITH_NURSE"
	StatusInObservation   Status = "IN_OBSERVATION"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusNoShow          Status = "NO_SHOW"
	StatusAbsent          Status = "ABSENT"
	StatusFailed          Status = "FAILED"
)

// transitions lists every allowed move. Statuses without an entry are terminal.
var transitions = map[Status][]Status{
	StatusPending:         {StatusPaid, StatusAwaitingPayment, StatusCancelled, StatusNoShow, StatusFailed},
	StatusOfflinePayment:  {StatusPaid, StatusAwaitingPayment, StatusCancelled, StatusNoShow},
	StatusAwaitingPayment: {StatusPaid, StatusCancelled, StatusNoShow},
	StatusPaid:            {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:       {StatusWithDoctor, StatusAbsent},
	StatusWithDoctor:      {StatusWithNurse, StatusCompleted, StatusAbsent},
	StatusWithNurse:       {StatusInObservation},
	StatusInObservation:   {StatusCompleted},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusOfflinePayment, StatusAwaitingPayment, StatusPaid,
		StatusCheckedIn, StatusWithDoctor, StatusWithNurse, StatusInObservation,
		StatusCompleted, StatusCancelled, StatusNoShow, StatusAbsent, StatusFailed,
	}
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RequiresPaid reports whether s can only be reached once paid.
func (s Status) RequiresPaid() bool {
	switch s {
	case StatusPaid, StatusCheckedIn, StatusWithDoctor, StatusWithNurse,
		StatusInObservation, StatusCompleted, StatusAbsent:
		return true
	}
	return false
}

// ForbidsPaid reports whether s implies no payment has been taken.
func (s Status) ForbidsPaid() bool {
	switch s {
	case StatusPending, StatusOfflinePayment, StatusAwaitingPayment, StatusFailed:
		return true
	}
	return false
}

// ReleasesSlot reports whether s no longer counts against slot capacity.
func (s Status) ReleasesSlot() bool {
	for _, r := range slot.ReleasedStatuses {
		if string(s) == r {
			return true
		}
	}
	return false
}

// PaymentMode is how the guardian intends to pay.
type PaymentMode string

const (
	PaymentOnline  PaymentMode = "ONLINE"
	PaymentOffline PaymentMode = "OFFLINE"
)

func (m PaymentMode) Valid() bool { return m == PaymentOnline || m == PaymentOffline }

// EntryStatus is the clinical decision on one entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "PENDING"
	EntryApproved   EntryStatus = "APPROVED"
	EntryRejected   EntryStatus = "REJECTED"
	EntryVaccinated EntryStatus = "VACCINATED"
)

// Decided reports whether the doctor has ruled on the entry.
func (s EntryStatus) Decided() bool { return s != EntryPending }

type Assessment struct {
	ClinicianID uuid.UUID         `json:"clinician_id"`
	Approved    bool              `json:"approved"`
	Notes       string            `json:"notes,omitempty"`
	Findings    map[string]string `json:"findings,omitempty"`
	AssessedAt  time.Time         `json:"assessed_at"`
}

type Administration struct {
	NurseID        uuid.UUID `json:"nurse_id"`
	BatchNumber    string    `json:"batch_number"`
	Site           string    `json:"site,omitempty"`
	Route          string    `json:"route,omitempty"`
	AdministeredAt time.Time `json:"administered_at"`
}

type Observation struct {
	StaffID     uuid.UUID         `json:"staff_id"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Vitals      map[string]string `json:"vitals,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
}

func (o *Observation) Done() bool { return o != nil && o.CompletedAt != nil }

// Entry is one vaccine or combo line of an appointment. Exactly one of
// VaccineID and ComboID is set.
type Entry struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	AppointmentID  uuid.UUID       `db:"appointment_id" json:"appointment_id"`
	VaccineID      *uuid.UUID      `db:"vaccine_id" json:"vaccine_id,omitempty"`
	ComboID        *uuid.UUID      `db:"combo_id" json:"combo_id,omitempty"`
	EnrollmentID   *uuid.UUID      `db:"enrollment_id" json:"enrollment_id,omitempty"`
	DoseScheduleID *uuid.UUID      `db:"dose_schedule_id" json:"dose_schedule_id,omitempty"`
	DoseNumber     int             `db:"dose_number" json:"dose_number,omitempty"`
	Status         EntryStatus     `db:"status" json:"status"`
	FromCombo      bool            `db:"from_combo" json:"from_combo"`
	Assessment     *Assessment     `db:"assessment" json:"assessment,omitempty"`
	Administration *Administration `db:"administration" json:"administration,omitempty"`
	Observation    *Observation    `db:"observation" json:"observation,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

func (e *Entry) Check() error {
	if (e.VaccineID == nil) == (e.ComboID == nil) {
		return apperr.ErrValidation.Withf("entry %s must reference exactly one of vaccine or combo", e.ID)
	}
	return nil
}

// Appointment maps to the appointment table and owns its entries.
type Appointment struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ChildID          uuid.UUID       `db:"child_id" json:"child_id"`
	GuardianID       uuid.UUID       `db:"guardian_id" json:"guardian_id"`
	SlotClinicianID  uuid.UUID       `db:"slot_clinician_id" json:"slot_clinician_id"`
	ClinicianID      *uuid.UUID      `db:"clinician_id" json:"clinician_id,omitempty"`
	Date             time.Time       `db:"appointment_date" json:"date"`
	Slot             slot.Label      `db:"slot" json:"slot"`
	Status           Status          `db:"status" json:"status"`
	PaymentMode      PaymentMode     `db:"payment_mode" json:"payment_mode"`
	Paid             bool            `db:"paid" json:"paid"`
	PaymentReference string          `db:"payment_reference" json:"payment_reference,omitempty"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	Notes            string          `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	Entries          []Entry         `json:"entries"`
}

// Transition moves the appointment to to, keeping Paid consistent. Paid is
// never cleared: a paid appointment that is cancelled or missed stays paid.
func (a *Appointment) Transition(to Status) error {
	if !CanTransition(a.Status, to) {
		return apperr.InvalidTransition(a.Status, to)
	}
	if to.RequiresPaid() {
		a.Paid = true
	}
	a.Status = to
	return nil
}

// CheckPaid verifies the paid flag agrees with the status.
func (a *Appointment) CheckPaid() error {
	if a.Status.RequiresPaid() && !a.Paid {
		return apperr.ErrValidation.Withf("%s appointment must be paid", a.Status)
	}
	if a.Status.ForbidsPaid() && a.Paid {
		return apperr.ErrValidation.Withf("%s appointment cannot be paid", a.Status)
	}
	return nil
}

// Entry returns the entry with id, or nil.
func (a *Appointment) Entry(id uuid.UUID) *Entry {
	for i := range a.Entries {
		if a.Entries[i].ID == id {
			return &a.Entries[i]
		}
	}
	return nil
}

// AllDecided reports whether every entry has a clinical decision.
func (a *Appointment) AllDecided() bool {
	for _, e := range a.Entries {
		if !e.Status.Decided() {
			return false
		}
	}
	return true
}

func (a *Appointment) AnyApproved() bool {
	for _, e := range a.Entries {
		if e.Status == EntryApproved || e.Status == EntryVaccinated {
			return true
		}
	}
	return false
}

// AllApprovedVaccinated reports whether no approved entry is still waiting
// for the nurse.
func (a *Appointment) AllApprovedVaccinated() bool {
	for _, e := range a.Entries {
		if e.Status == EntryApproved {
			return false
		}
	}
	return true
}

// AllObserved reports whether every vaccinated entry finished observation.
func (a *Appointment) AllObserved() bool {
	for _, e := range a.Entries {
		if e.Status == EntryVaccinated && !e.Observation.Done() {
			return false
		}
	}
	return true
}
