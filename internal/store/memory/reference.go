package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/directory"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// AddChild stores c, assigning an id when it has none.
func (s *Store) AddChild(c directory.Child) directory.Child {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.locked(func(st *state) { st.children[c.ID] = c })
	return c
}

func (s *Store) AddStaff(m directory.Staff) directory.Staff {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Capabilities = slices.Clone(m.Capabilities)
	s.locked(func(st *state) { st.staff[m.ID] = m })
	return m
}

func (s *Store) AddWorkSchedule(ws slot.WorkSchedule) slot.WorkSchedule {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	ws.Date = dosing.DateOnly(ws.Date)
	s.locked(func(st *state) { st.schedules[ws.ID] = ws })
	return ws
}

func (s *Store) AddVaccine(v catalog.Vaccine) catalog.Vaccine {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	s.locked(func(st *state) { st.vaccines[v.ID] = v })
	return v
}

func (s *Store) AddCombo(c catalog.Combo) catalog.Combo {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Items = slices.Clone(c.Items)
	s.locked(func(st *state) { st.combos[c.ID] = c })
	return c
}

// -- catalog --

type catalogRepo struct{ s *Store }

func (r *catalogRepo) GetVaccine(_ context.Context, id uuid.UUID) (*catalog.Vaccine, error) {
	var (
		v  catalog.Vaccine
		ok bool
	)
	r.s.locked(func(st *state) { v, ok = st.vaccines[id] })
	if !ok {
		return nil, apperr.ErrVaccineNotFound.Withf("%s", id)
	}
	return &v, nil
}

func (r *catalogRepo) GetCombo(_ context.Context, id uuid.UUID) (*catalog.Combo, error) {
	var (
		c  catalog.Combo
		ok bool
	)
	r.s.locked(func(st *state) { c, ok = st.combos[id] })
	if !ok {
		return nil, apperr.ErrComboNotFound.Withf("%s", id)
	}
	c.Items = slices.Clone(c.Items)
	return &c, nil
}

func (r *catalogRepo) ListIntervals(_ context.Context, vaccineID uuid.UUID) ([]dosing.Interval, error) {
	var out []dosing.Interval
	r.s.locked(func(st *state) { out = slices.Clone(st.intervals[vaccineID]) })
	sort.Slice(out, func(i, j int) bool { return out[i].FromDose < out[j].FromDose })
	return out, nil
}

func (r *catalogRepo) ReplaceIntervals(_ context.Context, vaccineID uuid.UUID, intervals []dosing.Interval) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.vaccines[vaccineID]; !ok {
			return apperr.ErrVaccineNotFound.Withf("%s", vaccineID)
		}
		st.intervals[vaccineID] = slices.Clone(intervals)
		return nil
	})
}

// -- directory --

type directoryRepo struct{ s *Store }

func (r *directoryRepo) GetChild(_ context.Context, id uuid.UUID) (*directory.Child, error) {
	var (
		c  directory.Child
		ok bool
	)
	r.s.locked(func(st *state) { c, ok = st.children[id] })
	if !ok {
		return nil, apperr.ErrChildNotFound.Withf("%s", id)
	}
	return &c, nil
}

func (r *directoryRepo) GetStaff(_ context.Context, id uuid.UUID) (*directory.Staff, error) {
	var (
		m  directory.Staff
		ok bool
	)
	r.s.locked(func(st *state) { m, ok = st.staff[id] })
	if !ok {
		return nil, apperr.ErrStaffNotFound.Withf("%s", id)
	}
	m.Capabilities = slices.Clone(m.Capabilities)
	return &m, nil
}

// -- slots --

type slotRepo struct{ s *Store }

func (r *slotRepo) ListWorkSchedules(_ context.Context, date time.Time) ([]slot.WorkSchedule, error) {
	date = dosing.DateOnly(date)
	var out []slot.WorkSchedule
	r.s.locked(func(st *state) {
		for _, ws := range st.schedules {
			if ws.Date.Equal(date) {
				out = append(out, ws)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClinicianID.String() < out[j].ClinicianID.String()
	})
	return out, nil
}

func (r *slotRepo) GetWorkSchedule(_ context.Context, clinicianID uuid.UUID, date time.Time) (*slot.WorkSchedule, error) {
	date = dosing.DateOnly(date)
	var found *slot.WorkSchedule
	r.s.locked(func(st *state) {
		for _, ws := range st.schedules {
			if ws.ClinicianID == clinicianID && ws.Date.Equal(date) {
				found = &ws
				return
			}
		}
	})
	return found, nil
}

func (r *slotRepo) CountActive(_ context.Context, clinicianID uuid.UUID, date time.Time, label slot.Label) (int, error) {
	date = dosing.DateOnly(date)
	n := 0
	r.s.locked(func(st *state) {
		for _, a := range st.appointments {
			if a.SlotClinicianID == clinicianID && a.Date.Equal(date) && a.Slot == label && !a.Status.ReleasesSlot() {
				n++
			}
		}
	})
	return n, nil
}

// LockKey is a no-op: transactions are already serialized.
func (r *slotRepo) LockKey(context.Context, string) error { return nil }
