package enrollment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

// Service serves staff-facing reads and manual dose changes.
type Service struct {
	repo   Repository
	doses  DoseRepository
	tx     db.TxRunner
	now    func() time.Time
	loc    *time.Location
	logger zerolog.Logger
}

func NewService(repo Repository, doses DoseRepository, tx db.TxRunner, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, doses: doses, tx: tx, now: time.Now, loc: loc, logger: logger}
}

// RescheduleDose moves a dose to newDate, which may not be before today.
func (s *Service) RescheduleDose(ctx context.Context, doseID uuid.UUID, newDate time.Time) (*dosing.DoseSchedule, error) {
	var out *dosing.DoseSchedule
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doses.GetByID(ctx, doseID)
		if err != nil {
			return err
		}
		if err := d.Reschedule(newDate, dosing.Today(s.now(), s.loc)); err != nil {
			return err
		}
		if err := s.doses.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("dose_schedule_id", doseID.String()).
		Str("date", out.ScheduledDate.Format(dosing.DateLayout)).
		Str("status", string(out.Status)).
		Msg("dose rescheduled")
	return out, nil
}

func (s *Service) ListByChild(ctx context.Context, childID uuid.UUID) ([]View, error) {
	enrollments, err := s.repo.ListByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(enrollments))
	for _, e := range enrollments {
		doses, err := s.doses.ListByEnrollment(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		v := View{Enrollment: *e, Doses: make([]dosing.DoseSchedule, 0, len(doses))}
		for _, d := range doses {
			v.Doses = append(v.Doses, *d)
		}
		out = append(out, v)
	}
	return out, nil
}
