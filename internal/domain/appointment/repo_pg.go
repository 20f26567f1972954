package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const apptCols = `id, child_id, guardian_id, slot_clinician_id, clinician_id, appointment_date, slot,
	status, payment_mode, paid, COALESCE(payment_reference, ''), total_amount, COALESCE(notes, ''),
	created_at, updated_at`

const entryCols = `id, appointment_id, vaccine_id, combo_id, enrollment_id, dose_schedule_id, dose_number,
	status, from_combo, assessment, administration, observation, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ChildID, &a.GuardianID, &a.SlotClinicianID, &a.ClinicianID, &a.Date, &a.Slot,
		&a.Status, &a.PaymentMode, &a.Paid, &a.PaymentReference, &a.TotalAmount, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.AppointmentID, &e.VaccineID, &e.ComboID, &e.EnrollmentID, &e.DoseScheduleID,
		&e.DoseNumber, &e.Status, &e.FromCombo, &e.Assessment, &e.Administration, &e.Observation,
		&e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	q := db.Conn(ctx, r.pool)
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO appointment (id, child_id, guardian_id, slot_clinician_id, clinician_id, appointment_date,
			slot, status, payment_mode, paid, payment_reference, total_amount, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, NULLIF($13, ''))
		RETURNING created_at, updated_at`,
		a.ID, a.ChildID, a.GuardianID, a.SlotClinicianID, a.ClinicianID, a.Date, string(a.Slot),
		string(a.Status), string(a.PaymentMode), a.Paid, a.PaymentReference, a.TotalAmount, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	for i := range a.Entries {
		a.Entries[i].AppointmentID = a.ID
		if err := r.AddEntry(ctx, &a.Entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) GetByEntryForUpdate(ctx context.Context, entryID uuid.UUID) (*Appointment, error) {
	a, err := r.get(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE id = (SELECT appointment_id FROM appointment_entry WHERE id = $1)
		FOR UPDATE`, entryID)
	if errors.Is(err, apperr.ErrAppointmentNotFound) {
		return nil, apperr.ErrEntryNotFound.Withf("%s", entryID)
	}
	return a, err
}

func (r *repoPG) get(ctx context.Context, sql string, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrAppointmentNotFound.Withf("%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if err := r.loadEntries(ctx, []*Appointment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) loadEntries(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(appts))
	byID := make(map[uuid.UUID]*Appointment, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
		byID[a.ID] = a
		a.Entries = []Entry{}
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM appointment_entry WHERE appointment_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		a := byID[e.AppointmentID]
		a.Entries = append(a.Entries, e)
	}
	return rows.Err()
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET clinician_id = $2, status = $3, paid = $4,
			payment_reference = NULLIF($5, ''), notes = NULLIF($6, ''), updated_at = now()
		WHERE id = $1 RETURNING updated_at`,
		a.ID, a.ClinicianID, string(a.Status), a.Paid, a.PaymentReference, a.Notes).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrAppointmentNotFound.Withf("%s", a.ID)
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *repoPG) AddEntry(ctx context.Context, e *Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment_entry (id, appointment_id, vaccine_id, combo_id, enrollment_id,
			dose_schedule_id, dose_number, status, from_combo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		e.ID, e.AppointmentID, e.VaccineID, e.ComboID, e.EnrollmentID, e.DoseScheduleID,
		e.DoseNumber, string(e.Status), e.FromCombo,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateEntry(ctx context.Context, e *Entry) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment_entry SET enrollment_id = $2, dose_schedule_id = $3, dose_number = $4,
			status = $5, assessment = $6, administration = $7, observation = $8, updated_at = now()
		WHERE id = $1 RETURNING updated_at`,
		e.ID, e.EnrollmentID, e.DoseScheduleID, e.DoseNumber, string(e.Status),
		e.Assessment, e.Administration, e.Observation).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrEntryNotFound.Withf("%s", e.ID)
	}
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Date != nil {
		add("appointment_date = $%d", *f.Date)
	}
	if f.ClinicianID != nil {
		add("(clinician_id = $%[1]d OR slot_clinician_id = $%[1]d)", *f.ClinicianID)
	}
	if f.ChildID != nil {
		add("child_id = $%d", *f.ChildID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM appointment`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM appointment%s
		ORDER BY appointment_date, slot, created_at LIMIT $%d OFFSET $%d`,
		apptCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadEntries(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
