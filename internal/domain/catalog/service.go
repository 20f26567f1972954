// Package catalog exposes the vaccine, combo and dose-interval configuration
// the scheduling engines read from.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger}
}

func (s *Service) Intervals(ctx context.Context, vaccineID uuid.UUID) ([]dosing.Interval, error) {
	if _, err := s.repo.GetVaccine(ctx, vaccineID); err != nil {
		return nil, err
	}
	return s.repo.ListIntervals(ctx, vaccineID)
}

// ReplaceIntervals swaps a vaccine's whole interval configuration.
func (s *Service) ReplaceIntervals(ctx context.Context, vaccineID uuid.UUID, intervals []dosing.Interval) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetVaccine(ctx, vaccineID)
		if err != nil {
			return err
		}
		if err := dosing.ValidateIntervals(intervals, v.TotalDoses); err != nil {
			return err
		}
		if err := s.repo.ReplaceIntervals(ctx, vaccineID, intervals); err != nil {
			return err
		}
		s.logger.Info().
			Str("vaccine_id", vaccineID.String()).
			Int("intervals", len(intervals)).
			Msg("dose intervals replaced")
		return nil
	})
}
