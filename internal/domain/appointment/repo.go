package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows List. Zero fields do not filter.
type ListFilter struct {
	Date        *time.Time
	ClinicianID *uuid.UUID
	ChildID     *uuid.UUID
	Status      Status
	Limit       int
	Offset      int
}

type Repository interface {
	// Create inserts the appointment and its entries.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the appointment row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByEntryForUpdate(ctx context.Context, entryID uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateEntry(ctx context.Context, e *Entry) error
	AddEntry(ctx context.Context, e *Entry) error
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
}
