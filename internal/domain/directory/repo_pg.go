package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) GetChild(ctx context.Context, id uuid.UUID) (*Child, error) {
	var c Child
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, guardian_id, full_name, birth_date FROM child WHERE id = $1`, id).
		Scan(&c.ID, &c.GuardianID, &c.FullName, &c.BirthDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrChildNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return &c, nil
}

func (r *repoPG) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	var s Staff
	var caps []string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT s.id, s.full_name,
			COALESCE(array_agg(c.capability) FILTER (WHERE c.capability IS NOT NULL), '{}')
		FROM staff s
		LEFT JOIN staff_capability c ON c.staff_id = s.id
		WHERE s.id = $1
		GROUP BY s.id, s.full_name`, id).
		Scan(&s.ID, &s.FullName, &caps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrStaffNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	for _, c := range caps {
		s.Capabilities = append(s.Capabilities, Capability(c))
	}
	return &s, nil
}
