package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) ListWorkSchedules(ctx context.Context, date time.Time) ([]WorkSchedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, clinician_id, work_date, shift FROM work_schedule
		WHERE work_date = $1 ORDER BY clinician_id`, date)
	if err != nil {
		return nil, fmt.Errorf("list work schedules: %w", err)
	}
	defer rows.Close()
	var out []WorkSchedule
	for rows.Next() {
		var ws WorkSchedule
		if err := rows.Scan(&ws.ID, &ws.ClinicianID, &ws.Date, &ws.Shift); err != nil {
			return nil, fmt.Errorf("scan work schedule: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (r *repoPG) GetWorkSchedule(ctx context.Context, clinicianID uuid.UUID, date time.Time) (*WorkSchedule, error) {
	var ws WorkSchedule
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, clinician_id, work_date, shift FROM work_schedule
		WHERE clinician_id = $1 AND work_date = $2`, clinicianID, date).
		Scan(&ws.ID, &ws.ClinicianID, &ws.Date, &ws.Shift)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work schedule: %w", err)
	}
	return &ws, nil
}

func (r *repoPG) CountActive(ctx context.Context, clinicianID uuid.UUID, date time.Time, label Label) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*) FROM appointment
		WHERE slot_clinician_id = $1 AND appointment_date = $2 AND slot = $3
		  AND status <> ALL($4)`, clinicianID, date, string(label), ReleasedStatuses).
		Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slot bookings: %w", err)
	}
	return n, nil
}

func (r *repoPG) LockKey(ctx context.Context, key string) error {
	return db.AdvisoryLock(ctx, key)
}
