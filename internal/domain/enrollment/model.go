package enrollment

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// Enrollment tracks a child's progress through one vaccine's dose series.
// It maps to the enrollment table.
type Enrollment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ChildID     uuid.UUID  `db:"child_id" json:"child_id"`
	VaccineID   uuid.UUID  `db:"vaccine_id" json:"vaccine_id"`
	TotalDoses  int        `db:"total_doses" json:"total_doses"`
	CurrentDose int        `db:"current_dose" json:"current_dose"`
	Completed   bool       `db:"completed" json:"completed"`
	FromCombo   bool       `db:"from_combo" json:"from_combo"`
	ComboID     *uuid.UUID `db:"combo_id" json:"combo_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Advance records dose as reached. CurrentDose never moves backwards.
func (e *Enrollment) Advance(dose int) error {
	if dose < 1 || dose > e.TotalDoses {
		return apperr.ErrValidation.Withf("dose %d outside series of %d", dose, e.TotalDoses)
	}
	if dose > e.CurrentDose {
		e.CurrentDose = dose
	}
	e.Completed = e.CurrentDose == e.TotalDoses
	return nil
}

// Check verifies 0 <= CurrentDose <= TotalDoses and Completed consistency.
func (e *Enrollment) Check() error {
	if e.TotalDoses < 1 || e.CurrentDose < 0 || e.CurrentDose > e.TotalDoses {
		return apperr.ErrValidation.Withf("enrollment %s at dose %d of %d", e.ID, e.CurrentDose, e.TotalDoses)
	}
	if e.Completed != (e.CurrentDose == e.TotalDoses) {
		return apperr.ErrValidation.Withf("enrollment %s completed flag out of sync", e.ID)
	}
	return nil
}

// RequestKind is the type of vaccine selection staged at booking time.
type RequestKind string

const (
	KindNewVaccine RequestKind = "NEW_VACCINE"
	KindNextDose   RequestKind = "NEXT_DOSE"
	KindCombo      RequestKind = "VACCINE_COMBO"
)

func (k RequestKind) Valid() bool {
	switch k {
	case KindNewVaccine, KindNextDose, KindCombo:
		return true
	}
	return false
}

// PendingRequest is a vaccine selection waiting for payment. It maps to the
// pending_vaccine_request table.
type PendingRequest struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	AppointmentID  uuid.UUID   `db:"appointment_id" json:"appointment_id"`
	EntryID        uuid.UUID   `db:"entry_id" json:"entry_id"`
	Kind           RequestKind `db:"kind" json:"kind"`
	VaccineID      *uuid.UUID  `db:"vaccine_id" json:"vaccine_id,omitempty"`
	EnrollmentID   *uuid.UUID  `db:"enrollment_id" json:"enrollment_id,omitempty"`
	DoseScheduleID *uuid.UUID  `db:"dose_schedule_id" json:"dose_schedule_id,omitempty"`
	ComboID        *uuid.UUID  `db:"combo_id" json:"combo_id,omitempty"`
	DoseNumber     int         `db:"dose_number" json:"dose_number,omitempty"`
	Attempts       int         `db:"attempts" json:"attempts"`
	LastError      string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// Validate checks that the identifiers the kind needs are present.
func (r *PendingRequest) Validate() error {
	switch r.Kind {
	case KindNewVaccine:
		if r.VaccineID == nil {
			return apperr.ErrValidation.Withf("%s requires vaccine_id", r.Kind)
		}
	case KindNextDose:
		if r.EnrollmentID == nil || r.DoseScheduleID == nil {
			return apperr.ErrValidation.Withf("%s requires enrollment_id and dose_schedule_id", r.Kind)
		}
	case KindCombo:
		if r.ComboID == nil {
			return apperr.ErrValidation.Withf("%s requires combo_id", r.Kind)
		}
	default:
		return apperr.ErrValidation.Withf("unknown request kind %q", r.Kind)
	}
	return nil
}

// Target identifies the appointment whose requests are being processed.
type Target struct {
	AppointmentID uuid.UUID
	ChildID       uuid.UUID
	Date          time.Time
}

// Link stitches an appointment entry to the dose it books.
type Link struct {
	EntryID        uuid.UUID
	EnrollmentID   uuid.UUID
	DoseScheduleID uuid.UUID
	DoseNumber     int
}

// ExtraEntry is a further combo vaccine that needs an entry of its own.
type ExtraEntry struct {
	VaccineID      uuid.UUID
	ComboID        uuid.UUID
	EnrollmentID   uuid.UUID
	DoseScheduleID uuid.UUID
	DoseNumber     int
}

// Outcome is what processing one request produced.
type Outcome struct {
	Primary Link
	Extra   []ExtraEntry
}

// View is an enrollment with its dose calendar.
type View struct {
	Enrollment
	Doses []dosing.DoseSchedule `json:"doses"`
}
