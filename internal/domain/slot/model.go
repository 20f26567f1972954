// Package slot enforces the per-clinician capacity of the clinic's hourly
// booking bands.
package slot

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// DefaultCapacity is the number of active bookings one clinician can take
// in a single band.
const DefaultCapacity = 5

// Label names an hourly booking band such as "8-9".
type Label string

var (
	morningLabels   = []Label{"8-9", "9-10", "10-11", "11-12"}
	afternoonLabels = []Label{"13-14", "14-15", "15-16", "16-17"}
)

// Labels returns every band in clinic order.
func Labels() []Label {
	out := make([]Label, 0, len(morningLabels)+len(afternoonLabels))
	out = append(out, morningLabels...)
	return append(out, afternoonLabels...)
}

func (l Label) String() string { return string(l) }

func (l Label) Valid() bool {
	for _, known := range Labels() {
		if l == known {
			return true
		}
	}
	return false
}

// ParseLabel validates s against the known bands.
func ParseLabel(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", apperr.ErrInvalidSlot.Withf("%q", s)
	}
	return l, nil
}

// Shift is the part of the day a clinician works.
type Shift string

const (
	ShiftMorning   Shift = "MORNING"
	ShiftAfternoon Shift = "AFTERNOON"
	ShiftFullDay   Shift = "FULL_DAY"
)

// Labels returns the bands a shift covers.
func (s Shift) Labels() []Label {
	switch s {
	case ShiftMorning:
		return morningLabels
	case ShiftAfternoon:
		return afternoonLabels
	case ShiftFullDay:
		return Labels()
	}
	return nil
}

func (s Shift) Covers(l Label) bool {
	for _, have := range s.Labels() {
		if have == l {
			return true
		}
	}
	return false
}

// ReleasedStatuses are appointment statuses that no longer hold a place in
// their band.
var ReleasedStatuses = []string{"CANCELLED", "NO_SHOW", "FAILED"}

// WorkSchedule maps to the work_schedule table: one clinician, one day.
type WorkSchedule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicianID uuid.UUID `db:"clinician_id" json:"clinician_id"`
	Date        time.Time `db:"work_date" json:"date"`
	Shift       Shift     `db:"shift" json:"shift"`
}

// Availability is the remaining capacity of one clinician in one band.
type Availability struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	Label       Label     `json:"slot"`
	Booked      int       `json:"booked"`
	Remaining   int       `json:"remaining"`
}
