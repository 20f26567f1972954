// Package memory is an in-process implementation of every repository. It
// backs the sandbox server and the cross-package tests.
//
// Transactions are serialized: the outermost WithinTx holds an exclusive lock
// for its whole duration, which stands in for row locks and advisory locks.
// Nested calls snapshot the state and restore it on error, like savepoints.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaxtrack/internal/domain/appointment"
	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/directory"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
)

type entryRow struct {
	entry appointment.Entry
	seq   int64
}

type pendingRow struct {
	req enrollment.PendingRequest
	seq int64
}

type enrollmentRow struct {
	enr enrollment.Enrollment
	seq int64
}

type state struct {
	seq int64

	children  map[uuid.UUID]directory.Child
	staff     map[uuid.UUID]directory.Staff
	schedules map[uuid.UUID]slot.WorkSchedule

	vaccines  map[uuid.UUID]catalog.Vaccine
	combos    map[uuid.UUID]catalog.Combo
	intervals map[uuid.UUID][]dosing.Interval

	appointments map[uuid.UUID]appointment.Appointment
	entries      map[uuid.UUID]entryRow
	enrollments  map[uuid.UUID]enrollmentRow
	doses        map[uuid.UUID]dosing.DoseSchedule
	pending      map[uuid.UUID]pendingRow
}

func newState() *state {
	return &state{
		children:     make(map[uuid.UUID]directory.Child),
		staff:        make(map[uuid.UUID]directory.Staff),
		schedules:    make(map[uuid.UUID]slot.WorkSchedule),
		vaccines:     make(map[uuid.UUID]catalog.Vaccine),
		combos:       make(map[uuid.UUID]catalog.Combo),
		intervals:    make(map[uuid.UUID][]dosing.Interval),
		appointments: make(map[uuid.UUID]appointment.Appointment),
		entries:      make(map[uuid.UUID]entryRow),
		enrollments:  make(map[uuid.UUID]enrollmentRow),
		doses:        make(map[uuid.UUID]dosing.DoseSchedule),
		pending:      make(map[uuid.UUID]pendingRow),
	}
}

// clone copies every table. Stored values are never mutated in place, so a
// shallow copy of each map is enough.
func (s *state) clone() *state {
	return &state{
		seq:          s.seq,
		children:     maps.Clone(s.children),
		staff:        maps.Clone(s.staff),
		schedules:    maps.Clone(s.schedules),
		vaccines:     maps.Clone(s.vaccines),
		combos:       maps.Clone(s.combos),
		intervals:    maps.Clone(s.intervals),
		appointments: maps.Clone(s.appointments),
		entries:      maps.Clone(s.entries),
		enrollments:  maps.Clone(s.enrollments),
		doses:        maps.Clone(s.doses),
		pending:      maps.Clone(s.pending),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store holds all tables in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

type txMarker struct{}

// WithinTx implements db.TxRunner.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
		ctx = context.WithValue(ctx, txMarker{}, true)
	}

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

// locked runs fn under the data lock.
func (s *Store) locked(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// write runs fn under the data lock. Writes outside WithinTx commit at once.
func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Appointments() appointment.Repository { return &appointmentRepo{s} }
func (s *Store) Enrollments() enrollment.Repository { return &enrollmentRepo{s} }
func (s *Store) Doses() enrollment.DoseRepository { return &doseRepo{s} }
func (s *Store) Pending() enrollment.PendingStore { return &pendingStore{s} }
func (s *Store) Catalog() catalog.Repository { return &catalogRepo{s} }
func (s *Store) Directory() directory.Repository { return &directoryRepo{s} }
func (s *Store) Slots() slot.Repository { return &slotRepo{s} }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
