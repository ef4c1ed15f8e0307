// Package recurrence computes when a reminder is next due. Everything here is
// pure: the only notion of "now" is the instant passed in by the caller.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tazhate/hound/internal/domain"
)

// Result is the outcome of a next-due computation.
type Result struct {
	// At is the due instant in UTC. Zero when Never is set.
	At    time.Time
	Never bool
	// Snoozed is set when the snooze override produced At.
	Snoozed bool
	// ClearSkip is set once the suppressed occurrence has passed and the skip
	// pair should be cleared from the stored reminder.
	ClearSkip bool
}

// Overdue reports whether the result is due at or before now.
func (r Result) Overdue(now time.Time) bool {
	return !r.Never && !r.At.After(now)
}

func never() Result { return Result{Never: true} }

type Calculator struct {
	loc *time.Location
}

// New returns a calculator interpreting wall-clock fields (hour, minute,
// weekday, day of month) in loc. A nil loc means UTC.
func New(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{loc: loc}
}

func (c *Calculator) Location() *time.Location { return c.loc }

// NextDue returns the authoritative next due instant of r.
func (c *Calculator) NextDue(r *domain.Reminder, pause domain.PauseState, now time.Time) Result {
	if r == nil || r.Schedule == nil {
		return never()
	}

	// Snooze wins over both the type schedule and the family pause.
	if r.Snooze.IsEnabled {
		remaining := nonNegative(r.Snooze.ExecutionInterval - r.Snooze.IntervalElapsed)
		return Result{At: r.ExecutionBasis.Add(remaining).UTC(), Snoozed: true}
	}

	if pause.Paused {
		return never()
	}

	basis := r.ExecutionBasis
	// The part of the last pause window after the basis is folded out:
	// countdowns are pushed back by its length, calendar types restart from the
	// unpause instant. A basis written during the pause counts from the unpause.
	from, to, folded := pause.ClosedWindow()
	folded = folded && !basis.After(to)
	if folded && from.Before(basis) {
		from = basis
	}

	switch s := r.Schedule.(type) {
	case *domain.OneTime:
		return Result{At: s.Date.UTC()}

	case *domain.Countdown:
		remaining := nonNegative(s.ExecutionInterval - s.IntervalElapsed)
		due := basis.Add(remaining)
		if folded && from.Before(due) {
			due = due.Add(to.Sub(from))
		}
		return Result{At: due.UTC()}

	case *domain.Weekly:
		if folded {
			basis = to
		}
		sched, err := weeklySchedule(s)
		if err != nil {
			return never()
		}
		next := func(after time.Time) time.Time { return sched.Next(after.In(c.loc)) }
		return c.withSkip(s.Skip, basis, now, next)

	case *domain.Monthly:
		if folded {
			basis = to
		}
		next := func(after time.Time) time.Time { return c.nextMonthly(s, after) }
		return c.withSkip(s.Skip, basis, now, next)
	}

	return never()
}

func (c *Calculator) withSkip(skip domain.Skip, basis, now time.Time, next func(time.Time) time.Time) Result {
	candidate := next(basis)
	if candidate.IsZero() {
		return never()
	}
	if skip.IsSkipping && c.sameDate(candidate, skip.Date) {
		candidate = next(candidate)
		if candidate.IsZero() {
			return never()
		}
	}
	return Result{
		At:        candidate.UTC(),
		ClearSkip: skip.IsSkipping && !skip.Date.After(now),
	}
}

func (c *Calculator) sameDate(a, b time.Time) bool {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	return ay == by && am == bm && ad == bd
}

// nextMonthly returns the first occurrence strictly after the given instant.
// Days beyond the month length are clamped to its last day.
func (c *Calculator) nextMonthly(s *domain.Monthly, after time.Time) time.Time {
	local := after.In(c.loc)
	year, month, _ := local.Date()
	for i := 0; i < 3; i++ {
		first := time.Date(year, month+time.Month(i), 1, 0, 0, 0, 0, c.loc)
		day := s.Day
		if last := daysIn(first.Year(), first.Month(), c.loc); day > last {
			day = last
		}
		candidate := time.Date(first.Year(), first.Month(), day, s.Hour, s.Minute, 0, 0, c.loc)
		if candidate.After(after) {
			return candidate
		}
	}
	return time.Time{}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// WeeklySpec renders the weekly schedule as a standard five-field cron spec.
func WeeklySpec(s *domain.Weekly) string {
	days := s.Weekdays.Days()
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, strings.Join(parts, ","))
}

func weeklySchedule(s *domain.Weekly) (cron.Schedule, error) {
	if s.Weekdays.Empty() {
		return nil, fmt.Errorf("no weekdays enabled")
	}
	// Without CRON_TZ the schedule is evaluated in the location of the time
	// passed to Next.
	return cron.ParseStandard(WeeklySpec(s))
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
