package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// -- enrollments --

type enrollmentRepo struct{ s *Store }

func (r *enrollmentRepo) Create(_ context.Context, e *enrollment.Enrollment) error {
	if err := e.Check(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := r.s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	return r.s.write(func(st *state) error {
		if e.ComboID != nil {
			for _, row := range st.enrollments {
				o := row.enr
				if o.ChildID == e.ChildID && o.VaccineID == e.VaccineID && o.ComboID != nil && *o.ComboID == *e.ComboID {
					return apperr.ErrValidation.Withf("child already enrolled in %s through combo %s", e.VaccineID, *e.ComboID)
				}
			}
		}
		st.enrollments[e.ID] = enrollmentRow{enr: *e, seq: st.next()}
		return nil
	})
}

func (r *enrollmentRepo) GetByID(_ context.Context, id uuid.UUID) (*enrollment.Enrollment, error) {
	var (
		row enrollmentRow
		ok  bool
	)
	r.s.locked(func(st *state) { row, ok = st.enrollments[id] })
	if !ok {
		return nil, apperr.ErrEnrollmentNotFound.Withf("%s", id)
	}
	e := row.enr
	return &e, nil
}

func (r *enrollmentRepo) FindForCombo(_ context.Context, childID, vaccineID, comboID uuid.UUID) (*enrollment.Enrollment, error) {
	var found *enrollment.Enrollment
	r.s.locked(func(st *state) {
		for _, row := range st.enrollments {
			e := row.enr
			if e.ChildID == childID && e.VaccineID == vaccineID && e.ComboID != nil && *e.ComboID == comboID {
				found = &e
				return
			}
		}
	})
	return found, nil
}

func (r *enrollmentRepo) ListByChild(_ context.Context, childID uuid.UUID) ([]*enrollment.Enrollment, error) {
	var rows []enrollmentRow
	r.s.locked(func(st *state) {
		for _, row := range st.enrollments {
			if row.enr.ChildID == childID {
				rows = append(rows, row)
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		e := row.enr
		out = append(out, &e)
	}
	return out, nil
}

func (r *enrollmentRepo) Update(_ context.Context, e *enrollment.Enrollment) error {
	if err := e.Check(); err != nil {
		return err
	}
	return r.s.write(func(st *state) error {
		row, ok := st.enrollments[e.ID]
		if !ok {
			return apperr.ErrEnrollmentNotFound.Withf("%s", e.ID)
		}
		row.enr.CurrentDose = e.CurrentDose
		row.enr.Completed = e.Completed
		row.enr.UpdatedAt = r.s.now()
		st.enrollments[e.ID] = row
		e.UpdatedAt = row.enr.UpdatedAt
		return nil
	})
}

// -- dose schedules --

type doseRepo struct{ s *Store }

func cloneDose(d dosing.DoseSchedule) dosing.DoseSchedule {
	if d.ScheduledDate != nil {
		t := *d.ScheduledDate
		d.ScheduledDate = &t
	}
	return d
}

func (r *doseRepo) CreateBatch(_ context.Context, doses []*dosing.DoseSchedule) error {
	now := r.s.now()
	return r.s.write(func(st *state) error {
		for _, d := range doses {
			enr, ok := st.enrollments[d.EnrollmentID]
			if !ok {
				return apperr.ErrEnrollmentNotFound.Withf("%s", d.EnrollmentID)
			}
			if d.DoseNumber < 1 || d.DoseNumber > enr.enr.TotalDoses {
				return apperr.ErrValidation.Withf("dose %d outside series of %d", d.DoseNumber, enr.enr.TotalDoses)
			}
			for _, o := range st.doses {
				if o.EnrollmentID == d.EnrollmentID && o.DoseNumber == d.DoseNumber {
					return apperr.ErrValidation.Withf("dose %d already scheduled for %s", d.DoseNumber, d.EnrollmentID)
				}
			}
			if d.ID == uuid.Nil {
				d.ID = uuid.New()
			}
			d.CreatedAt, d.UpdatedAt = now, now
			st.doses[d.ID] = cloneDose(*d)
		}
		return nil
	})
}

func (r *doseRepo) GetByID(_ context.Context, id uuid.UUID) (*dosing.DoseSchedule, error) {
	var (
		d  dosing.DoseSchedule
		ok bool
	)
	r.s.locked(func(st *state) { d, ok = st.doses[id] })
	if !ok {
		return nil, apperr.ErrDoseScheduleNotFound.Withf("%s", id)
	}
	d = cloneDose(d)
	return &d, nil
}

func (r *doseRepo) ListByEnrollment(_ context.Context, enrollmentID uuid.UUID) ([]*dosing.DoseSchedule, error) {
	var out []*dosing.DoseSchedule
	r.s.locked(func(st *state) {
		for _, d := range st.doses {
			if d.EnrollmentID == enrollmentID {
				d := cloneDose(d)
				out = append(out, &d)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DoseNumber < out[j].DoseNumber })
	return out, nil
}

func (r *doseRepo) Update(_ context.Context, d *dosing.DoseSchedule) error {
	return r.s.write(func(st *state) error {
		cur, ok := st.doses[d.ID]
		if !ok {
			return apperr.ErrDoseScheduleNotFound.Withf("%s", d.ID)
		}
		cur.ScheduledDate = d.ScheduledDate
		cur.Status = d.Status
		cur.Paid = d.Paid
		cur.UpdatedAt = r.s.now()
		st.doses[d.ID] = cloneDose(cur)
		d.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

// -- pending requests --

type pendingStore struct{ s *Store }

func (p *pendingStore) Stage(_ context.Context, reqs []enrollment.PendingRequest) error {
	now := p.s.now()
	return p.s.write(func(st *state) error {
		for i := range reqs {
			q := &reqs[i]
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			q.CreatedAt = now
			st.pending[q.ID] = pendingRow{req: *q, seq: st.next()}
		}
		return nil
	})
}

func (p *pendingStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]enrollment.PendingRequest, error) {
	var rows []pendingRow
	p.s.locked(func(st *state) {
		for _, row := range st.pending {
			if row.req.AppointmentID == appointmentID {
				rows = append(rows, row)
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]enrollment.PendingRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.req)
	}
	return out, nil
}

func (p *pendingStore) Delete(_ context.Context, id uuid.UUID) error {
	p.s.locked(func(st *state) { delete(st.pending, id) })
	return nil
}

func (p *pendingStore) DeleteByAppointment(_ context.Context, appointmentID uuid.UUID) (int, error) {
	n := 0
	p.s.locked(func(st *state) {
		for id, row := range st.pending {
			if row.req.AppointmentID == appointmentID {
				delete(st.pending, id)
				n++
			}
		}
	})
	return n, nil
}

func (p *pendingStore) RecordFailure(_ context.Context, id uuid.UUID, msg string) error {
	p.s.locked(func(st *state) {
		if row, ok := st.pending[id]; ok {
			row.req.Attempts++
			row.req.LastError = msg
			st.pending[id] = row
		}
	})
	return nil
}
