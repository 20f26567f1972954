package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/directory"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
)

// Demo holds the ids created by SeedDemo.
type Demo struct {
	ChildID        uuid.UUID
	GuardianID     uuid.UUID
	DoctorID       uuid.UUID
	NurseID        uuid.UUID
	ReceptionistID uuid.UUID
	ObserverID     uuid.UUID
	HepBID         uuid.UUID
	MMRID          uuid.UUID
	DTaPID         uuid.UUID
	ComboID        uuid.UUID
}

// SeedDemo fills s with a small clinic: one child, one staff member per
// capability, a doctor rostered for the next two weeks from today and a
// catalog with a combo.
func SeedDemo(s *Store, today time.Time) Demo {
	today = dosing.DateOnly(today)
	var d Demo

	d.GuardianID = uuid.New()
	d.ChildID = s.AddChild(directory.Child{
		GuardianID: d.GuardianID,
		FullName:   "Asha Verma",
		BirthDate:  today.AddDate(0, -2, 0),
	}).ID

	d.DoctorID = s.AddStaff(directory.Staff{FullName: "Dr. Rao", Capabilities: []directory.Capability{directory.CapabilityDoctor}}).ID
	d.NurseID = s.AddStaff(directory.Staff{FullName: "Nurse Iyer", Capabilities: []directory.Capability{directory.CapabilityNurse}}).ID
	d.ReceptionistID = s.AddStaff(directory.Staff{FullName: "Front Desk", Capabilities: []directory.Capability{directory.CapabilityReception}}).ID
	d.ObserverID = s.AddStaff(directory.Staff{FullName: "Ward Observer", Capabilities: []directory.Capability{
		directory.CapabilityObserver, directory.CapabilityNurse,
	}}).ID

	for i := 0; i < 14; i++ {
		s.AddWorkSchedule(slot.WorkSchedule{ClinicianID: d.DoctorID, Date: today.AddDate(0, 0, i), Shift: slot.ShiftFullDay})
	}

	hepB := s.AddVaccine(catalog.Vaccine{Name: "Hepatitis B", TotalDoses: 3, Price: decimal.NewFromInt(350)})
	mmr := s.AddVaccine(catalog.Vaccine{Name: "MMR", TotalDoses: 2, Price: decimal.RequireFromString("520.50")})
	dtap := s.AddVaccine(catalog.Vaccine{Name: "DTaP", TotalDoses: 3, Price: decimal.NewFromInt(480)})
	d.HepBID, d.MMRID, d.DTaPID = hepB.ID, mmr.ID, dtap.ID

	s.locked(func(st *state) {
		st.intervals[hepB.ID] = []dosing.Interval{{FromDose: 1, ToDose: 2, Days: 28}, {FromDose: 2, ToDose: 3, Days: 150}}
		st.intervals[mmr.ID] = []dosing.Interval{{FromDose: 1, ToDose: 2, Days: 180}}
		// DTaP 2->3 is left out to exercise the unscheduled-dose path.
		st.intervals[dtap.ID] = []dosing.Interval{{FromDose: 1, ToDose: 2, Days: 56}}
	})

	d.ComboID = s.AddCombo(catalog.Combo{
		Name:  "Infant starter pack",
		Price: decimal.NewFromInt(700),
		Items: []catalog.ComboItem{
			{VaccineID: dtap.ID, DoseCount: 2},
			{VaccineID: hepB.ID, DoseCount: 3},
		},
	}).ID
	return d
}
