// Package directory resolves the people the workflow refers to by id:
// children and clinic staff.
package directory

import (
	"time"

	"github.com/google/uuid"
)

// Capability is a clinical role a staff member may perform.
type Capability string

const (
	CapabilityDoctor    Capability = "DOCTOR"
	CapabilityNurse     Capability = "NURSE"
	CapabilityReception Capability = "RECEPTION"
	CapabilityObserver  Capability = "OBSERVER"
)

// Child maps to the child table.
type Child struct {
	ID         uuid.UUID `db:"id" json:"id"`
	GuardianID uuid.UUID `db:"guardian_id" json:"guardian_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
}

// Staff maps to the staff table with its capabilities.
type Staff struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	FullName     string       `db:"full_name" json:"full_name"`
	Capabilities []Capability `json:"capabilities"`
}

func (s *Staff) Has(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
