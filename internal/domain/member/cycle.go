package member

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCycleLength reports a non-positive cycle length. This is a
// configuration error: callers must fail fast instead of defaulting.
var ErrInvalidCycleLength = errors.New("membership cycle length must be at least one day")

// Schedule is the result of a due-date recomputation.
type Schedule struct {
	NextDue       time.Time
	OverdueCycles int
}

// ComputeSchedule performs the membership cycle arithmetic. The first due
// date is anchor + cycleDays. While today has not passed it, the member is
// current. Once it has, every started cycle counts as one missed cycle
// (ceiling division, at least one) and the next due date advances by that
// many whole cycles. Pure; dates are compared at day granularity.
func ComputeSchedule(anchor time.Time, cycleDays int, today time.Time) (Schedule, error) {
	if cycleDays < 1 {
		return Schedule{}, fmt.Errorf("%w: got %d", ErrInvalidCycleLength, cycleDays)
	}

	anchorDay := dateOnly(anchor)
	todayDay := dateOnly(today)

	firstDue := anchorDay.AddDate(0, 0, cycleDays)
	if !todayDay.After(firstDue) {
		return Schedule{NextDue: firstDue}, nil
	}

	elapsedDays := int(todayDay.Sub(firstDue).Hours() / 24)
	cyclesMissed := (elapsedDays + cycleDays - 1) / cycleDays
	if cyclesMissed < 1 {
		cyclesMissed = 1
	}

	return Schedule{
		NextDue:       firstDue.AddDate(0, 0, cycleDays*cyclesMissed),
		OverdueCycles: cyclesMissed,
	}, nil
}

// dateOnly normalizes to midnight UTC so day arithmetic is unaffected by
// wall-clock offsets and DST.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
