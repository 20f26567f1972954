package slot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// ListWorkSchedules returns the schedules for date ordered by clinician id.
	ListWorkSchedules(ctx context.Context, date time.Time) ([]WorkSchedule, error)
	// GetWorkSchedule returns nil when the clinician is not working on date.
	GetWorkSchedule(ctx context.Context, clinicianID uuid.UUID, date time.Time) (*WorkSchedule, error)
	CountActive(ctx context.Context, clinicianID uuid.UUID, date time.Time, label Label) (int, error)
	// LockKey serializes transactions on key until the current one ends.
	LockKey(ctx context.Context, key string) error
}
