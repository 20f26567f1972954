package memory

import (
	"context"
	"maps"
	"sort"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/appointment"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

type appointmentRepo struct{ s *Store }

// cloneEntry detaches the clinical records so callers cannot change stored
// state without UpdateEntry.
func cloneEntry(e appointment.Entry) appointment.Entry {
	if e.Assessment != nil {
		a := *e.Assessment
		a.Findings = maps.Clone(a.Findings)
		e.Assessment = &a
	}
	if e.Administration != nil {
		a := *e.Administration
		e.Administration = &a
	}
	if e.Observation != nil {
		o := *e.Observation
		o.Vitals = maps.Clone(o.Vitals)
		if o.CompletedAt != nil {
			t := *o.CompletedAt
			o.CompletedAt = &t
		}
		e.Observation = &o
	}
	return e
}

func (st *state) assemble(a appointment.Appointment) *appointment.Appointment {
	var rows []entryRow
	for _, row := range st.entries {
		if row.entry.AppointmentID == a.ID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	a.Entries = make([]appointment.Entry, 0, len(rows))
	for _, row := range rows {
		a.Entries = append(a.Entries, cloneEntry(row.entry))
	}
	return &a
}

func (r *appointmentRepo) Create(_ context.Context, a *appointment.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	for i := range a.Entries {
		if err := a.Entries[i].Check(); err != nil {
			return err
		}
	}
	now := r.s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	return r.s.write(func(st *state) error {
		head := *a
		head.Entries = nil
		st.appointments[a.ID] = head
		for i := range a.Entries {
			e := &a.Entries[i]
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			e.AppointmentID = a.ID
			e.CreatedAt, e.UpdatedAt = now, now
			st.entries[e.ID] = entryRow{entry: cloneEntry(*e), seq: st.next()}
		}
		return nil
	})
}

func (r *appointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var out *appointment.Appointment
	r.s.locked(func(st *state) {
		if a, ok := st.appointments[id]; ok {
			out = st.assemble(a)
		}
	})
	if out == nil {
		return nil, apperr.ErrAppointmentNotFound.Withf("%s", id)
	}
	return out, nil
}

// GetForUpdate is GetByID: the transaction lock already excludes other writers.
func (r *appointmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r *appointmentRepo) GetByEntryForUpdate(ctx context.Context, entryID uuid.UUID) (*appointment.Appointment, error) {
	var (
		row entryRow
		ok  bool
	)
	r.s.locked(func(st *state) { row, ok = st.entries[entryID] })
	if !ok {
		return nil, apperr.ErrEntryNotFound.Withf("%s", entryID)
	}
	return r.GetByID(ctx, row.entry.AppointmentID)
}

func (r *appointmentRepo) Update(_ context.Context, a *appointment.Appointment) error {
	return r.s.write(func(st *state) error {
		cur, ok := st.appointments[a.ID]
		if !ok {
			return apperr.ErrAppointmentNotFound.Withf("%s", a.ID)
		}
		cur.ClinicianID = a.ClinicianID
		cur.Status = a.Status
		cur.Paid = a.Paid
		cur.PaymentReference = a.PaymentReference
		cur.Notes = a.Notes
		cur.UpdatedAt = r.s.now()
		st.appointments[a.ID] = cur
		a.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

func (r *appointmentRepo) UpdateEntry(_ context.Context, e *appointment.Entry) error {
	return r.s.write(func(st *state) error {
		row, ok := st.entries[e.ID]
		if !ok {
			return apperr.ErrEntryNotFound.Withf("%s", e.ID)
		}
		cur := row.entry
		cur.EnrollmentID = e.EnrollmentID
		cur.DoseScheduleID = e.DoseScheduleID
		cur.DoseNumber = e.DoseNumber
		cur.Status = e.Status
		cur.Assessment = e.Assessment
		cur.Administration = e.Administration
		cur.Observation = e.Observation
		cur.UpdatedAt = r.s.now()
		row.entry = cloneEntry(cur)
		st.entries[e.ID] = row
		e.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

func (r *appointmentRepo) AddEntry(_ context.Context, e *appointment.Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.s.write(func(st *state) error {
		if _, ok := st.appointments[e.AppointmentID]; !ok {
			return apperr.ErrAppointmentNotFound.Withf("%s", e.AppointmentID)
		}
		now := r.s.now()
		e.CreatedAt, e.UpdatedAt = now, now
		st.entries[e.ID] = entryRow{entry: cloneEntry(*e), seq: st.next()}
		return nil
	})
}

func (r *appointmentRepo) List(_ context.Context, f appointment.ListFilter) ([]*appointment.Appointment, int, error) {
	var all []*appointment.Appointment
	r.s.locked(func(st *state) {
		for _, a := range st.appointments {
			if f.Date != nil && !a.Date.Equal(*f.Date) {
				continue
			}
			if f.ClinicianID != nil && a.SlotClinicianID != *f.ClinicianID &&
				(a.ClinicianID == nil || *a.ClinicianID != *f.ClinicianID) {
				continue
			}
			if f.ChildID != nil && a.ChildID != *f.ChildID {
				continue
			}
			if f.Status != "" && a.Status != f.Status {
				continue
			}
			all = append(all, st.assemble(a))
		}
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		if all[i].Slot != all[j].Slot {
			return all[i].Slot < all[j].Slot
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(f.Offset, total)
	end := min(start+limit, total)
	return all[start:end], total, nil
}
