// Package dosing computes dose calendars for a vaccine series.
package dosing

import (
	"sort"
	"time"

	"github.com/vaxtrack/vaxtrack/internal/platform/apperr"
)

// PlannedDose is one row of a computed dose calendar.
type PlannedDose struct {
	DoseNumber    int
	ScheduledDate *time.Time
	Status        Status
	Paid          bool
}

// Gap records a dose transition with no configured interval.
type Gap struct {
	FromDose int
	ToDose   int
}

// Plan is the result of Compute.
type Plan struct {
	Doses []PlannedDose
	Gaps  []Gap
}

// Compute lays out totalDoses doses starting at anchor.
//
// Dose 1 is always scheduled on anchor and paid. Dose n is dated from dose n-1
// using the interval (n-1, n). A missing interval leaves the dose UNSCHEDULED
// and is reported as a Gap rather than an error. A dose whose predecessor has
// no date is also UNSCHEDULED but adds no Gap, since the missing interval
// upstream was already reported. When comboOrigin is set every dose after the
// first is UNSCHEDULED since combo series are dated by staff.
func Compute(totalDoses int, anchor time.Time, intervals []Interval, comboOrigin bool) (*Plan, error) {
	if totalDoses < 1 {
		return nil, apperr.ErrValidation.Withf("total doses must be at least 1, got %d", totalDoses)
	}

	byPair := make(map[[2]int]int, len(intervals))
	for _, iv := range intervals {
		byPair[[2]int{iv.FromDose, iv.ToDose}] = iv.Days
	}

	first := DateOnly(anchor)
	plan := &Plan{Doses: make([]PlannedDose, 0, totalDoses)}
	plan.Doses = append(plan.Doses, PlannedDose{
		DoseNumber:    1,
		ScheduledDate: &first,
		Status:        StatusScheduled,
		Paid:          true,
	})

	for n := 2; n <= totalDoses; n++ {
		dose := PlannedDose{DoseNumber: n, Status: StatusUnscheduled}
		if comboOrigin {
			plan.Doses = append(plan.Doses, dose)
			continue
		}

		prev := plan.Doses[n-2].ScheduledDate
		days, ok := byPair[[2]int{n - 1, n}]
		if !ok {
			plan.Gaps = append(plan.Gaps, Gap{FromDose: n - 1, ToDose: n})
		} else if prev != nil {
			d := prev.AddDate(0, 0, days)
			dose.ScheduledDate = &d
			dose.Status = StatusScheduled
		}
		plan.Doses = append(plan.Doses, dose)
	}
	return plan, nil
}

// ValidateIntervals checks an interval configuration for a vaccine with
// totalDoses doses. Pass totalDoses <= 0 to skip the upper bound check.
func ValidateIntervals(intervals []Interval, totalDoses int) error {
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FromDose < sorted[j].FromDose })

	for i, iv := range sorted {
		switch {
		case iv.FromDose < 1:
			return apperr.ErrInvalidInterval.Withf("from dose must be at least 1, got %d", iv.FromDose)
		case iv.FromDose > iv.ToDose:
			return apperr.ErrInvalidInterval.Withf("from dose %d is after to dose %d", iv.FromDose, iv.ToDose)
		case iv.Days < 0:
			return apperr.ErrInvalidInterval.Withf("interval %d->%d has negative days", iv.FromDose, iv.ToDose)
		case totalDoses > 0 && iv.ToDose > totalDoses:
			return apperr.ErrInvalidInterval.Withf("to dose %d exceeds %d total doses", iv.ToDose, totalDoses)
		}
		if i > 0 {
			prev := sorted[i-1]
			// ranges touching at an endpoint, like (1,2) and (2,3), do not overlap
			if prev.FromDose == iv.FromDose || iv.FromDose < prev.ToDose {
				return apperr.ErrInvalidInterval.Withf("interval %d->%d overlaps %d->%d",
					iv.FromDose, iv.ToDose, prev.FromDose, prev.ToDose)
			}
		}
	}
	return nil
}
