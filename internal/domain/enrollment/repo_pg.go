package enrollment

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

// -- Enrollment --

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const enrollmentCols = `id, child_id, vaccine_id, total_doses, current_dose, completed, from_combo, combo_id, created_at, updated_at`

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.ChildID, &e.VaccineID, &e.TotalDoses, &e.CurrentDose,
		&e.Completed, &e.FromCombo, &e.ComboID, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Enrollment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO enrollment (id, child_id, vaccine_id, total_doses, current_dose, completed, from_combo, combo_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		e.ID, e.ChildID, e.VaccineID, e.TotalDoses, e.CurrentDose, e.Completed, e.FromCombo, e.ComboID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrEnrollmentNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *repoPG) FindForCombo(ctx context.Context, childID, vaccineID, comboID uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment
		 WHERE child_id = $1 AND vaccine_id = $2 AND combo_id = $3`, childID, vaccineID, comboID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find combo enrollment: %w", err)
	}
	return e, nil
}

func (r *repoPG) ListByChild(ctx context.Context, childID uuid.UUID) ([]*Enrollment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE child_id = $1 ORDER BY created_at, id`, childID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, e *Enrollment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE enrollment SET current_dose = $2, completed = $3, updated_at = now()
		WHERE id = $1`, e.ID, e.CurrentDose, e.Completed)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrEnrollmentNotFound.Withf("%s", e.ID)
	}
	return nil
}

// -- DoseSchedule --

type doseRepoPG struct{ pool *pgxpool.Pool }

func NewDoseRepoPG(pool *pgxpool.Pool) DoseRepository { return &doseRepoPG{pool: pool} }

const doseCols = `id, enrollment_id, dose_number, scheduled_date, status, paid, created_at, updated_at`

func scanDose(row pgx.Row) (*dosing.DoseSchedule, error) {
	var d dosing.DoseSchedule
	err := row.Scan(&d.ID, &d.EnrollmentID, &d.DoseNumber, &d.ScheduledDate, &d.Status, &d.Paid, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doseRepoPG) CreateBatch(ctx context.Context, doses []*dosing.DoseSchedule) error {
	b := &pgx.Batch{}
	for _, d := range doses {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO dose_schedule (id, enrollment_id, dose_number, scheduled_date, status, paid)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ID, d.EnrollmentID, d.DoseNumber, d.ScheduledDate, string(d.Status), d.Paid)
	}
	if err := db.Conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert dose schedules: %w", err)
	}
	return nil
}

func (r *doseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*dosing.DoseSchedule, error) {
	d, err := scanDose(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doseCols+` FROM dose_schedule WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrDoseScheduleNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dose schedule: %w", err)
	}
	return d, nil
}

func (r *doseRepoPG) ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]*dosing.DoseSchedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+doseCols+` FROM dose_schedule WHERE enrollment_id = $1 ORDER BY dose_number`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("list dose schedules: %w", err)
	}
	defer rows.Close()
	var out []*dosing.DoseSchedule
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dose schedule: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *doseRepoPG) Update(ctx context.Context, d *dosing.DoseSchedule) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE dose_schedule SET scheduled_date = $2, status = $3, paid = $4, updated_at = now()
		WHERE id = $1 RETURNING updated_at`,
		d.ID, d.ScheduledDate, string(d.Status), d.Paid).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrDoseScheduleNotFound.Withf("%s", d.ID)
	}
	if err != nil {
		return fmt.Errorf("update dose schedule: %w", err)
	}
	return nil
}

// -- PendingRequest --

type pendingPG struct{ pool *pgxpool.Pool }

func NewPendingStorePG(pool *pgxpool.Pool) PendingStore { return &pendingPG{pool: pool} }

func (r *pendingPG) Stage(ctx context.Context, reqs []PendingRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := range reqs {
		q := &reqs[i]
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO pending_vaccine_request
				(id, appointment_id, entry_id, kind, vaccine_id, enrollment_id, dose_schedule_id, combo_id, dose_number, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			q.ID, q.AppointmentID, q.EntryID, string(q.Kind), q.VaccineID, q.EnrollmentID,
			q.DoseScheduleID, q.ComboID, q.DoseNumber, i)
	}
	if err := db.Conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("stage pending requests: %w", err)
	}
	return nil
}

func (r *pendingPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]PendingRequest, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, appointment_id, entry_id, kind, vaccine_id, enrollment_id, dose_schedule_id,
		       combo_id, dose_number, attempts, COALESCE(last_error, ''), created_at
		FROM pending_vaccine_request
		WHERE appointment_id = $1
		ORDER BY position, created_at`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	var out []PendingRequest
	for rows.Next() {
		var q PendingRequest
		if err := rows.Scan(&q.ID, &q.AppointmentID, &q.EntryID, &q.Kind, &q.VaccineID, &q.EnrollmentID,
			&q.DoseScheduleID, &q.ComboID, &q.DoseNumber, &q.Attempts, &q.LastError, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *pendingPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM pending_vaccine_request WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	return nil
}

func (r *pendingPG) DeleteByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM pending_vaccine_request WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("discard pending requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pendingPG) RecordFailure(ctx context.Context, id uuid.UUID, msg string) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE pending_vaccine_request SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, id, msg); err != nil {
		return fmt.Errorf("record pending failure: %w", err)
	}
	return nil
}
