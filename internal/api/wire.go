package api

import (
	"math"
	"time"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/recurrence"
)

// ReminderBody is the wire shape of a reminder. Every type-specific block is
// present; only the one named by reminderType is meaningful. Durations are
// whole seconds, instants are RFC 3339.
type ReminderBody struct {
	ReminderID               int64      `json:"reminderId,omitempty"`
	DogID                    int64      `json:"dogId,omitempty"`
	ReminderAction           string     `json:"reminderAction"`
	ReminderCustomActionName string     `json:"reminderCustomActionName,omitempty"`
	ReminderType             string     `json:"reminderType"`
	ReminderExecutionBasis   *time.Time `json:"reminderExecutionBasis,omitempty"`
	ReminderIsEnabled        *bool      `json:"reminderIsEnabled,omitempty"`
	ReminderIsDeleted        bool       `json:"reminderIsDeleted"`
	ReminderLastModified     *time.Time `json:"reminderLastModified,omitempty"`

	SnoozeIsEnabled         bool  `json:"snoozeIsEnabled"`
	SnoozeExecutionInterval int64 `json:"snoozeExecutionInterval"`
	SnoozeIntervalElapsed   int64 `json:"snoozeIntervalElapsed"`

	CountdownExecutionInterval int64 `json:"countdownExecutionInterval"`
	CountdownIntervalElapsed   int64 `json:"countdownIntervalElapsed"`

	WeeklyHour           int        `json:"weeklyHour"`
	WeeklyMinute         int        `json:"weeklyMinute"`
	WeeklySunday         bool       `json:"weeklySunday"`
	WeeklyMonday         bool       `json:"weeklyMonday"`
	WeeklyTuesday        bool       `json:"weeklyTuesday"`
	WeeklyWednesday      bool       `json:"weeklyWednesday"`
	WeeklyThursday       bool       `json:"weeklyThursday"`
	WeeklyFriday         bool       `json:"weeklyFriday"`
	WeeklySaturday       bool       `json:"weeklySaturday"`
	WeeklyIsSkipping     bool       `json:"weeklyIsSkipping"`
	WeeklyIsSkippingDate *time.Time `json:"weeklyIsSkippingDate,omitempty"`

	MonthlyDay            int        `json:"monthlyDay"`
	MonthlyHour           int        `json:"monthlyHour"`
	MonthlyMinute         int        `json:"monthlyMinute"`
	MonthlyIsSkipping     bool       `json:"monthlyIsSkipping"`
	MonthlyIsSkippingDate *time.Time `json:"monthlyIsSkippingDate,omitempty"`

	OneTimeDate *time.Time `json:"oneTimeDate,omitempty"`

	// NextDue is only set on responses; absent when the reminder is not
	// going to fire.
	NextDue *time.Time `json:"nextDue,omitempty"`
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

func duration(field string, s int64) (time.Duration, error) {
	if s < 0 || s > maxSeconds {
		return 0, apperr.Invalid("%s must be between 0 and %d seconds", field, maxSeconds)
	}
	return time.Duration(s) * time.Second, nil
}

func skipOf(isSkipping bool, date *time.Time) domain.Skip {
	skip := domain.Skip{IsSkipping: isSkipping}
	if date != nil {
		skip.Date = date.UTC()
	}
	return skip
}

// toDomain builds the reminder described by a request. Server owned fields
// (identity, basis, deletion, last modified) are ignored.
func (b *ReminderBody) toDomain() (*domain.Reminder, error) {
	if b.ReminderAction == "" {
		return nil, apperr.Missing("reminderAction")
	}
	if b.ReminderType == "" {
		return nil, apperr.Missing("reminderType")
	}

	var durations [4]time.Duration
	for i, f := range []struct {
		name  string
		value int64
	}{
		{"snoozeExecutionInterval", b.SnoozeExecutionInterval},
		{"snoozeIntervalElapsed", b.SnoozeIntervalElapsed},
		{"countdownExecutionInterval", b.CountdownExecutionInterval},
		{"countdownIntervalElapsed", b.CountdownIntervalElapsed},
	} {
		d, err := duration(f.name, f.value)
		if err != nil {
			return nil, err
		}
		durations[i] = d
	}

	r := &domain.Reminder{
		Action:           domain.ReminderAction(b.ReminderAction),
		CustomActionName: b.ReminderCustomActionName,
		IsEnabled:        b.ReminderIsEnabled == nil || *b.ReminderIsEnabled,
		Snooze: domain.Snooze{
			IsEnabled:         b.SnoozeIsEnabled,
			ExecutionInterval: durations[0],
			IntervalElapsed:   durations[1],
		},
	}

	switch domain.ReminderType(b.ReminderType) {
	case domain.ReminderOneTime:
		if b.OneTimeDate == nil {
			return nil, apperr.Missing("oneTimeDate")
		}
		r.Schedule = &domain.OneTime{Date: b.OneTimeDate.UTC()}
	case domain.ReminderCountdown:
		r.Schedule = &domain.Countdown{
			ExecutionInterval: durations[2],
			IntervalElapsed:   durations[3],
		}
	case domain.ReminderWeekly:
		days := map[time.Weekday]bool{
			time.Sunday:    b.WeeklySunday,
			time.Monday:    b.WeeklyMonday,
			time.Tuesday:   b.WeeklyTuesday,
			time.Wednesday: b.WeeklyWednesday,
			time.Thursday:  b.WeeklyThursday,
			time.Friday:    b.WeeklyFriday,
			time.Saturday:  b.WeeklySaturday,
		}
		var set domain.WeekdaySet
		for d, on := range days {
			if on {
				set = set.With(d)
			}
		}
		r.Schedule = &domain.Weekly{
			Hour:     b.WeeklyHour,
			Minute:   b.WeeklyMinute,
			Weekdays: set,
			Skip:     skipOf(b.WeeklyIsSkipping, b.WeeklyIsSkippingDate),
		}
	case domain.ReminderMonthly:
		r.Schedule = &domain.Monthly{
			Day:    b.MonthlyDay,
			Hour:   b.MonthlyHour,
			Minute: b.MonthlyMinute,
			Skip:   skipOf(b.MonthlyIsSkipping, b.MonthlyIsSkippingDate),
		}
	default:
		return nil, apperr.Invalid("unknown reminderType %q", b.ReminderType)
	}
	return r, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// reminderBody renders r. A nil next leaves nextDue out.
func reminderBody(r *domain.Reminder, next *recurrence.Result) ReminderBody {
	enabled := r.IsEnabled
	b := ReminderBody{
		ReminderID:               r.ID,
		DogID:                    r.DogID,
		ReminderAction:           string(r.Action),
		ReminderCustomActionName: r.CustomActionName,
		ReminderType:             string(r.Type()),
		ReminderExecutionBasis:   timePtr(r.ExecutionBasis),
		ReminderIsEnabled:        &enabled,
		ReminderIsDeleted:        r.IsDeleted,
		ReminderLastModified:     timePtr(r.LastModified),
		SnoozeIsEnabled:          r.Snooze.IsEnabled,
		SnoozeExecutionInterval:  seconds(r.Snooze.ExecutionInterval),
		SnoozeIntervalElapsed:    seconds(r.Snooze.IntervalElapsed),
	}

	switch s := r.Schedule.(type) {
	case *domain.OneTime:
		b.OneTimeDate = timePtr(s.Date)
	case *domain.Countdown:
		b.CountdownExecutionInterval = seconds(s.ExecutionInterval)
		b.CountdownIntervalElapsed = seconds(s.IntervalElapsed)
	case *domain.Weekly:
		b.WeeklyHour, b.WeeklyMinute = s.Hour, s.Minute
		b.WeeklySunday = s.Weekdays.Has(time.Sunday)
		b.WeeklyMonday = s.Weekdays.Has(time.Monday)
		b.WeeklyTuesday = s.Weekdays.Has(time.Tuesday)
		b.WeeklyWednesday = s.Weekdays.Has(time.Wednesday)
		b.WeeklyThursday = s.Weekdays.Has(time.Thursday)
		b.WeeklyFriday = s.Weekdays.Has(time.Friday)
		b.WeeklySaturday = s.Weekdays.Has(time.Saturday)
		b.WeeklyIsSkipping = s.Skip.IsSkipping
		b.WeeklyIsSkippingDate = timePtr(s.Skip.Date)
	case *domain.Monthly:
		b.MonthlyDay, b.MonthlyHour, b.MonthlyMinute = s.Day, s.Hour, s.Minute
		b.MonthlyIsSkipping = s.Skip.IsSkipping
		b.MonthlyIsSkippingDate = timePtr(s.Skip.Date)
	}

	if next != nil && !next.Never {
		b.NextDue = timePtr(next.At)
	}
	return b
}

type completeBody struct {
	Action string `json:"action"`
	Note   string `json:"note,omitempty"`
}

type pauseBody struct {
	IsPaused *bool `json:"isPaused"`
}

type notificationsBody struct {
	NotificationToken    string `json:"notificationToken"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

type familyBody struct {
	FamilyID    int64      `json:"familyId"`
	Name        string     `json:"familyName"`
	IsPaused    bool       `json:"familyIsPaused"`
	LastPause   *time.Time `json:"familyLastPause,omitempty"`
	LastUnpause *time.Time `json:"familyLastUnpause,omitempty"`
}

func familyResponse(f *domain.Family) familyBody {
	b := familyBody{FamilyID: f.ID, Name: f.Name, IsPaused: f.IsPaused}
	if f.LastPause != nil {
		b.LastPause = timePtr(*f.LastPause)
	}
	if f.LastUnpause != nil {
		b.LastUnpause = timePtr(*f.LastUnpause)
	}
	return b
}

type userBody struct {
	UserID               int64  `json:"userId"`
	FamilyID             int64  `json:"familyId"`
	Name                 string `json:"userName"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

func userResponse(u *domain.User) userBody {
	return userBody{UserID: u.ID, FamilyID: u.FamilyID, Name: u.Name, NotificationsEnabled: u.NotificationsEnabled}
}
