package dosing

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// Status is the lifecycle state of a single scheduled dose.
type Status string

const (
	StatusUnscheduled Status = "UNSCHEDULED"
	StatusScheduled   Status = "SCHEDULED"
	StatusCompleted   Status = "COMPLETED"
	StatusMissed      Status = "MISSED"
	StatusCancelled   Status = "CANCELLED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusDelayed     Status = "DELAYED"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known dose status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnscheduled, StatusScheduled, StatusCompleted, StatusMissed,
		StatusCancelled, StatusRescheduled, StatusDelayed:
		return true
	}
	return false
}

// Final reports whether the dose can no longer be moved.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DoseSchedule maps to the dose_schedule table.
type DoseSchedule struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EnrollmentID  uuid.UUID  `db:"enrollment_id" json:"enrollment_id"`
	DoseNumber    int        `db:"dose_number" json:"dose_number"`
	ScheduledDate *time.Time `db:"scheduled_date" json:"scheduled_date,omitempty"`
	Status        Status     `db:"status" json:"status"`
	Paid          bool       `db:"paid" json:"paid"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// MarkBooked pays the dose and pins it to the appointment date.
func (d *DoseSchedule) MarkBooked(date time.Time) error {
	if d.Status.Final() {
		return apperr.ErrDoseState.Withf("dose %d is %s", d.DoseNumber, d.Status)
	}
	day := DateOnly(date)
	d.ScheduledDate = &day
	d.Status = StatusScheduled
	d.Paid = true
	return nil
}

// Reschedule moves the dose to newDate. A dose that never had a date becomes
// SCHEDULED, one that had a date becomes RESCHEDULED.
func (d *DoseSchedule) Reschedule(newDate, today time.Time) error {
	if d.Status.Final() {
		return apperr.ErrDoseState.Withf("dose %d is %s", d.DoseNumber, d.Status)
	}
	day := DateOnly(newDate)
	if day.Before(DateOnly(today)) {
		return apperr.ErrDateInPast.Withf("%s", day.Format(DateLayout))
	}
	if d.ScheduledDate == nil {
		d.Status = StatusScheduled
	} else {
		d.Status = StatusRescheduled
	}
	d.ScheduledDate = &day
	return nil
}

// Interval is the configured gap between two consecutive doses of a vaccine.
type Interval struct {
	FromDose int `db:"from_dose" json:"from_dose"`
	ToDose   int `db:"to_dose" json:"to_dose"`
	Days     int `db:"interval_days" json:"interval_days"`
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the calendar day of now in loc, as UTC midnight.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOnly(now.In(loc))
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperr.ErrValidation.Withf("invalid date %q", s).Wrap(err)
	}
	return t, nil
}
