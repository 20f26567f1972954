package appointment

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusFailed, true},
		{StatusOfflinePayment, StatusFailed, false},
		{StatusAwaitingPayment, StatusPaid, true},
		{StatusPaid, StatusCheckedIn, true},
		{StatusPaid, StatusWithDoctor, false},
		{StatusCheckedIn, StatusCancelled, false},
		{StatusWithDoctor, StatusCompleted, true},
		{StatusWithNurse, StatusCompleted, false},
		{StatusInObservation, StatusCompleted, true},
		{StatusCompleted, StatusPaid, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
		StatusAbsent: true, StatusFailed: true,
	}
	for _, s := range AllStatuses() {
		if s.Terminal() != terminal[s] {
			t.Errorf("%s: expected terminal=%v", s, terminal[s])
		}
	}
}

// Every allowed transition from a consistent appointment leaves it consistent.
func TestTransition_KeepsPaidConsistent(t *testing.T) {
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			if !CanTransition(from, to) {
				continue
			}
			a := &Appointment{Status: from, Paid: from.RequiresPaid()}
			if err := a.Transition(to); err != nil {
				t.Fatalf("%s -> %s: %v", from, to, err)
			}
			if err := a.CheckPaid(); err != nil {
				t.Errorf("%s -> %s: %v", from, to, err)
			}
		}
	}
}

func TestTransition_Rejected(t *testing.T) {
	a := &Appointment{Status: StatusCompleted, Paid: true}
	err := a.Transition(StatusCheckedIn)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("status changed to %s", a.Status)
	}
}

func TestTransition_PaidSurvivesCancellation(t *testing.T) {
	for _, to := range []Status{StatusCancelled, StatusNoShow} {
		a := &Appointment{Status: StatusPaid, Paid: true}
		if err := a.Transition(to); err != nil {
			t.Fatalf("%s: %v", to, err)
		}
		if !a.Paid {
			t.Errorf("%s cleared the paid flag", to)
		}
		if err := a.CheckPaid(); err != nil {
			t.Errorf("%s: %v", to, err)
		}
	}
}

func TestCheckPaid(t *testing.T) {
	if err := (&Appointment{Status: StatusCheckedIn}).CheckPaid(); err == nil {
		t.Error("unpaid checked-in appointment should fail")
	}
	if err := (&Appointment{Status: StatusAwaitingPayment, Paid: true}).CheckPaid(); err == nil {
		t.Error("paid awaiting-payment appointment should fail")
	}
	if err := (&Appointment{Status: StatusCancelled, Paid: true}).CheckPaid(); err != nil {
		t.Errorf("cancelled after payment is allowed: %v", err)
	}
}

func TestReleasesSlot(t *testing.T) {
	released := map[string]bool{}
	for _, s := range slot.ReleasedStatuses {
		released[s] = true
		if !Status(s).Valid() {
			t.Errorf("released status %s is not an appointment status", s)
		}
	}
	for _, s := range AllStatuses() {
		if s.ReleasesSlot() != released[string(s)] {
			t.Errorf("%s: ReleasesSlot=%v", s, s.ReleasesSlot())
		}
	}
}

func TestEntry_Check(t *testing.T) {
	id := uuid.New()
	if err := (&Entry{VaccineID: &id}).Check(); err != nil {
		t.Errorf("vaccine entry: %v", err)
	}
	if err := (&Entry{ComboID: &id}).Check(); err != nil {
		t.Errorf("combo entry: %v", err)
	}
	if err := (&Entry{}).Check(); err == nil {
		t.Error("entry without target should fail")
	}
	if err := (&Entry{VaccineID: &id, ComboID: &id}).Check(); err == nil {
		t.Error("entry with both targets should fail")
	}
}

func TestAppointment_EntryProgress(t *testing.T) {
	a := &Appointment{Entries: []Entry{
		{ID: uuid.New(), Status: EntryApproved},
		{ID: uuid.New(), Status: EntryRejected},
	}}
	if !a.AllDecided() || !a.AnyApproved() {
		t.Error("expected decided with an approval")
	}
	if a.AllApprovedVaccinated() {
		t.Error("approved entry still waits for the nurse")
	}

	a.Entries[0].Status = EntryVaccinated
	if !a.AllApprovedVaccinated() {
		t.Error("expected every approved entry vaccinated")
	}
	if a.AllObserved() {
		t.Error("vaccinated entry has not been observed")
	}
	a.Entries[0].Observation = &Observation{}
	if a.AllObserved() {
		t.Error("open observation is not done")
	}

	if a.Entry(a.Entries[1].ID) != &a.Entries[1] {
		t.Error("Entry should return a pointer into the slice")
	}
	if a.Entry(uuid.New()) != nil {
		t.Error("unknown entry should be nil")
	}
}
