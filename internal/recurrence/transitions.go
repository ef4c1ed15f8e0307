package recurrence

import (
	"fmt"
	"time"

	"github.com/tazhate/hound/internal/domain"
)

// Fired returns the reminder state after an occurrence fired (or was
// completed by a family member) at now. The input is not modified.
func Fired(r *domain.Reminder, now time.Time) *domain.Reminder {
	next := r.Clone()
	next.ExecutionBasis = now.UTC()
	next.Snooze = domain.Snooze{}

	switch s := next.Schedule.(type) {
	case *domain.OneTime:
		next.IsEnabled = false
	case *domain.Countdown:
		s.IntervalElapsed = 0
	case *domain.Weekly:
		s.Skip = clearPassedSkip(s.Skip, now)
	case *domain.Monthly:
		s.Skip = clearPassedSkip(s.Skip, now)
	}
	return next
}

// ClearSkip drops the skip pair of Weekly and Monthly reminders.
func ClearSkip(r *domain.Reminder) *domain.Reminder {
	next := r.Clone()
	next.SetSkip(domain.Skip{})
	return next
}

func clearPassedSkip(skip domain.Skip, now time.Time) domain.Skip {
	if skip.IsSkipping && !skip.Date.After(now) {
		return domain.Skip{}
	}
	return skip
}

// SkipNext marks the upcoming occurrence of a Weekly or Monthly reminder as
// suppressed.
func (c *Calculator) SkipNext(r *domain.Reminder, pause domain.PauseState, now time.Time) (*domain.Reminder, error) {
	if _, ok := r.SkipState(); !ok {
		return nil, fmt.Errorf("%s reminders cannot skip an occurrence", r.Type())
	}
	next := r.Clone()
	next.Snooze = domain.Snooze{}
	next.SetSkip(domain.Skip{})

	// Occurrences already behind now are not candidates for a skip.
	ahead := next.Clone()
	if ahead.ExecutionBasis.Before(now) {
		ahead.ExecutionBasis = now
	}
	res := c.NextDue(ahead, pause, now)
	if res.Never {
		return nil, fmt.Errorf("reminder has no upcoming occurrence")
	}
	next.SetSkip(domain.Skip{IsSkipping: true, Date: res.At})
	return next, nil
}

// Unpaused rewrites a reminder so that time spent paused no longer counts.
// Countdowns keep the part of the interval consumed before the pause. A
// reminder written during the pause restarts from the unpause instant.
// Snoozed reminders are left untouched because snooze ignores pause.
func Unpaused(r *domain.Reminder, lastPause, unpause time.Time) *domain.Reminder {
	next := r.Clone()
	if next.Snooze.IsEnabled || next.ExecutionBasis.After(unpause) {
		return next
	}
	if s, ok := next.Schedule.(*domain.Countdown); ok && next.ExecutionBasis.Before(lastPause) {
		consumed := lastPause.Sub(next.ExecutionBasis)
		s.IntervalElapsed += consumed
		if s.IntervalElapsed > s.ExecutionInterval {
			s.IntervalElapsed = s.ExecutionInterval
		}
	}
	next.ExecutionBasis = unpause.UTC()
	return next
}
