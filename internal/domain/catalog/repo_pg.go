package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) GetVaccine(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	var v Vaccine
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, total_doses, price FROM vaccine WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &v.TotalDoses, &v.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrVaccineNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get vaccine: %w", err)
	}
	return &v, nil
}

func (r *repoPG) GetCombo(ctx context.Context, id uuid.UUID) (*Combo, error) {
	q := db.Conn(ctx, r.pool)
	var c Combo
	err := q.QueryRow(ctx, `SELECT id, name, price FROM vaccine_combo WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrComboNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get combo: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT vaccine_id, dose_count FROM vaccine_combo_item
		WHERE combo_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list combo items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it ComboItem
		if err := rows.Scan(&it.VaccineID, &it.DoseCount); err != nil {
			return nil, fmt.Errorf("scan combo item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (r *repoPG) ListIntervals(ctx context.Context, vaccineID uuid.UUID) ([]dosing.Interval, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT from_dose, to_dose, interval_days FROM dose_interval
		WHERE vaccine_id = $1 ORDER BY from_dose`, vaccineID)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer rows.Close()
	var out []dosing.Interval
	for rows.Next() {
		var iv dosing.Interval
		if err := rows.Scan(&iv.FromDose, &iv.ToDose, &iv.Days); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceIntervals(ctx context.Context, vaccineID uuid.UUID, intervals []dosing.Interval) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM dose_interval WHERE vaccine_id = $1`, vaccineID); err != nil {
		return fmt.Errorf("clear intervals: %w", err)
	}
	for _, iv := range intervals {
		if _, err := q.Exec(ctx, `
			INSERT INTO dose_interval (id, vaccine_id, from_dose, to_dose, interval_days)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), vaccineID, iv.FromDose, iv.ToDose, iv.Days); err != nil {
			return fmt.Errorf("insert interval %d->%d: %w", iv.FromDose, iv.ToDose, err)
		}
	}
	return nil
}
