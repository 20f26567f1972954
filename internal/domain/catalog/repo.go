package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
)

// Reader is the read side used by the booking and enrollment paths.
type Reader interface {
	GetVaccine(ctx context.Context, id uuid.UUID) (*Vaccine, error)
	GetCombo(ctx context.Context, id uuid.UUID) (*Combo, error)
	ListIntervals(ctx context.Context, vaccineID uuid.UUID) ([]dosing.Interval, error)
}

type Repository interface {
	Reader
	ReplaceIntervals(ctx context.Context, vaccineID uuid.UUID, intervals []dosing.Interval) error
}
