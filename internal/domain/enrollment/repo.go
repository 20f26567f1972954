package enrollment

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
)

type Repository interface {
	Create(ctx context.Context, e *Enrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	// FindForCombo returns nil when the child has no enrollment for vaccineID
	// bought through comboID.
	FindForCombo(ctx context.Context, childID, vaccineID, comboID uuid.UUID) (*Enrollment, error)
	ListByChild(ctx context.Context, childID uuid.UUID) ([]*Enrollment, error)
	Update(ctx context.Context, e *Enrollment) error
}

type DoseRepository interface {
	CreateBatch(ctx context.Context, doses []*dosing.DoseSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*dosing.DoseSchedule, error)
	// ListByEnrollment returns doses ordered by dose number.
	ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]*dosing.DoseSchedule, error)
	Update(ctx context.Context, d *dosing.DoseSchedule) error
}

// PendingStore is the outbox of vaccine selections awaiting payment.
type PendingStore interface {
	Stage(ctx context.Context, reqs []PendingRequest) error
	// ListByAppointment returns requests in staging order.
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]PendingRequest, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
	RecordFailure(ctx context.Context, id uuid.UUID, msg string) error
}
