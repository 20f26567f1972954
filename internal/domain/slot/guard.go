package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
	"github.com/vaxtrack/vaxtrack/internal/platform/lock"
)

// ReserveFunc persists a booking for clinicianID. It runs inside the
// transaction that counted the band, while the band is locked.
type ReserveFunc func(ctx context.Context, clinicianID uuid.UUID) error

// Guard serializes bookings per (clinician, date, band) and refuses those
// that would exceed capacity.
type Guard struct {
	repo     Repository
	locker   lock.Locker
	tx       db.TxRunner
	capacity int
	logger   zerolog.Logger
}

func NewGuard(repo Repository, locker lock.Locker, tx db.TxRunner, capacity int, logger zerolog.Logger) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{repo: repo, locker: locker, tx: tx, capacity: capacity, logger: logger}
}

func (g *Guard) Capacity() int { return g.capacity }

// Key is the lock key for one band of one clinician.
func Key(clinicianID uuid.UUID, date time.Time, label Label) string {
	return fmt.Sprintf("slot:%s:%s:%s", clinicianID, date.Format(dosing.DateLayout), label)
}

// Check reports whether clinicianID can take one more booking in the band.
// It takes no lock; use Reserve to book.
func (g *Guard) Check(ctx context.Context, clinicianID uuid.UUID, date time.Time, label Label) error {
	if !label.Valid() {
		return apperr.ErrInvalidSlot.Withf("%q", label)
	}
	if err := g.covers(ctx, clinicianID, date, label); err != nil {
		return err
	}
	n, err := g.repo.CountActive(ctx, clinicianID, dosing.DateOnly(date), label)
	if err != nil {
		return err
	}
	if n >= g.capacity {
		return apperr.ErrSlotFull.Withf("%s %s", date.Format(dosing.DateLayout), label)
	}
	return nil
}

// Reserve books the band and calls fn with the chosen clinician.
//
// With clinicianID set only that clinician is considered and the error is
// ErrClinicianUnavailable or ErrSlotFull. Without it every clinician working
// the date is tried in stable order and ErrNoAvailableSlot is returned when
// all are full.
func (g *Guard) Reserve(ctx context.Context, clinicianID *uuid.UUID, date time.Time, label Label, fn ReserveFunc) error {
	if !label.Valid() {
		return apperr.ErrInvalidSlot.Withf("%q", label)
	}
	date = dosing.DateOnly(date)

	if clinicianID != nil {
		if err := g.covers(ctx, *clinicianID, date, label); err != nil {
			return err
		}
		ok, err := g.tryReserve(ctx, *clinicianID, date, label, fn)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrSlotFull.Withf("%s %s", date.Format(dosing.DateLayout), label)
		}
		return nil
	}

	schedules, err := g.repo.ListWorkSchedules(ctx, date)
	if err != nil {
		return err
	}
	for _, ws := range schedules {
		if !ws.Shift.Covers(label) {
			continue
		}
		ok, err := g.tryReserve(ctx, ws.ClinicianID, date, label, fn)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.ErrNoAvailableSlot.Withf("%s %s", date.Format(dosing.DateLayout), label)
}

func (g *Guard) covers(ctx context.Context, clinicianID uuid.UUID, date time.Time, label Label) error {
	ws, err := g.repo.GetWorkSchedule(ctx, clinicianID, dosing.DateOnly(date))
	if err != nil {
		return err
	}
	if ws == nil || !ws.Shift.Covers(label) {
		return apperr.ErrClinicianUnavailable.Withf("%s on %s %s", clinicianID, date.Format(dosing.DateLayout), label)
	}
	return nil
}

// tryReserve returns false without calling fn when the band is full.
func (g *Guard) tryReserve(ctx context.Context, clinicianID uuid.UUID, date time.Time, label Label, fn ReserveFunc) (bool, error) {
	key := Key(clinicianID, date, label)
	release, err := g.locker.Acquire(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	full := false
	err = g.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := g.repo.LockKey(ctx, key); err != nil {
			return err
		}
		n, err := g.repo.CountActive(ctx, clinicianID, date, label)
		if err != nil {
			return err
		}
		if n >= g.capacity {
			full = true
			return nil
		}
		return fn(ctx, clinicianID)
	})
	if err != nil {
		return false, err
	}
	if full {
		g.logger.Debug().Str("key", key).Int("capacity", g.capacity).Msg("slot full")
	}
	return !full, nil
}

// Availability lists the remaining capacity of every band on date, for one
// clinician or for everyone working that day.
func (g *Guard) Availability(ctx context.Context, date time.Time, clinicianID *uuid.UUID) ([]Availability, error) {
	date = dosing.DateOnly(date)
	var schedules []WorkSchedule
	if clinicianID != nil {
		ws, err := g.repo.GetWorkSchedule(ctx, *clinicianID, date)
		if err != nil {
			return nil, err
		}
		if ws == nil {
			return []Availability{}, nil
		}
		schedules = []WorkSchedule{*ws}
	} else {
		var err error
		if schedules, err = g.repo.ListWorkSchedules(ctx, date); err != nil {
			return nil, err
		}
	}

	out := []Availability{}
	for _, ws := range schedules {
		for _, l := range ws.Shift.Labels() {
			n, err := g.repo.CountActive(ctx, ws.ClinicianID, date, l)
			if err != nil {
				return nil, err
			}
			remaining := g.capacity - n
			if remaining < 0 {
				remaining = 0
			}
			out = append(out, Availability{ClinicianID: ws.ClinicianID, Label: l, Booked: n, Remaining: remaining})
		}
	}
	return out, nil
}
