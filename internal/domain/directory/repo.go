package directory

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetChild(ctx context.Context, id uuid.UUID) (*Child, error)
	GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error)
}
