package domain

import (
	"fmt"
	"time"
)

type ReminderType string

const (
	ReminderOneTime   ReminderType = "oneTime"
	ReminderCountdown ReminderType = "countdown"
	ReminderWeekly    ReminderType = "weekly"
	ReminderMonthly   ReminderType = "monthly"
)

type ReminderAction string

const (
	ActionFeed            ReminderAction = "feed"
	ActionFreshWater      ReminderAction = "freshWater"
	ActionTreat           ReminderAction = "treat"
	ActionPotty           ReminderAction = "potty"
	ActionPee             ReminderAction = "pee"
	ActionPoo             ReminderAction = "poo"
	ActionBrush           ReminderAction = "brush"
	ActionBathe           ReminderAction = "bathe"
	ActionWalk            ReminderAction = "walk"
	ActionMedicine        ReminderAction = "medicine"
	ActionVaccine         ReminderAction = "vaccine"
	ActionWeight          ReminderAction = "weight"
	ActionTrainingSession ReminderAction = "trainingSession"
	ActionDoctor          ReminderAction = "doctor"
	ActionCustom          ReminderAction = "custom"
)

// MaxCustomActionName is the longest custom action name accepted.
const MaxCustomActionName = 32

var actionNames = map[ReminderAction]string{
	ActionFeed:            "Feed",
	ActionFreshWater:      "Fresh Water",
	ActionTreat:           "Treat",
	ActionPotty:           "Potty",
	ActionPee:             "Pee",
	ActionPoo:             "Poo",
	ActionBrush:           "Brush",
	ActionBathe:           "Bathe",
	ActionWalk:            "Walk",
	ActionMedicine:        "Medicine",
	ActionVaccine:         "Vaccine",
	ActionWeight:          "Weight",
	ActionTrainingSession: "Training Session",
	ActionDoctor:          "Doctor Visit",
	ActionCustom:          "Custom",
}

// Valid reports whether a is a known action.
func (a ReminderAction) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// DisplayName returns the human readable action, preferring custom when set.
func (a ReminderAction) DisplayName(custom string) string {
	if a == ActionCustom && custom != "" {
		return custom
	}
	if name, ok := actionNames[a]; ok {
		return name
	}
	return string(a)
}

// Schedule is the type-specific part of a reminder. Exactly one variant is
// attached to a Reminder: *OneTime, *Countdown, *Weekly or *Monthly.
type Schedule interface {
	Type() ReminderType
	Validate() error
}

type OneTime struct {
	Date time.Time
}

func (*OneTime) Type() ReminderType { return ReminderOneTime }

func (s *OneTime) Validate() error {
	if s.Date.IsZero() {
		return fmt.Errorf("oneTimeDate is required")
	}
	return nil
}

type Countdown struct {
	ExecutionInterval time.Duration
	IntervalElapsed   time.Duration
}

func (*Countdown) Type() ReminderType { return ReminderCountdown }

func (s *Countdown) Validate() error {
	if s.ExecutionInterval <= 0 {
		return fmt.Errorf("countdownExecutionInterval must be positive")
	}
	if s.IntervalElapsed < 0 {
		return fmt.Errorf("countdownIntervalElapsed must not be negative")
	}
	return nil
}

// Skip suppresses exactly one upcoming occurrence. Date is the instant of the
// suppressed occurrence and is only meaningful while IsSkipping is set.
type Skip struct {
	IsSkipping bool
	Date       time.Time
}

func (s Skip) validate() error {
	if s.IsSkipping && s.Date.IsZero() {
		return fmt.Errorf("isSkippingDate is required while isSkipping")
	}
	return nil
}

type Weekly struct {
	Hour     int
	Minute   int
	Weekdays WeekdaySet
	Skip     Skip
}

func (*Weekly) Type() ReminderType { return ReminderWeekly }

func (s *Weekly) Validate() error {
	if err := validateTimeOfDay(s.Hour, s.Minute); err != nil {
		return err
	}
	if s.Weekdays.Empty() {
		return fmt.Errorf("at least one weekday must be enabled")
	}
	return s.Skip.validate()
}

type Monthly struct {
	Day    int
	Hour   int
	Minute int
	Skip   Skip
}

func (*Monthly) Type() ReminderType { return ReminderMonthly }

func (s *Monthly) Validate() error {
	if s.Day < 1 || s.Day > 31 {
		return fmt.Errorf("monthlyDay must be between 1 and 31")
	}
	if err := validateTimeOfDay(s.Hour, s.Minute); err != nil {
		return err
	}
	return s.Skip.validate()
}

func validateTimeOfDay(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23")
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute must be between 0 and 59")
	}
	return nil
}

// WeekdaySet is a bitmask of enabled weekdays, bit 0 = Sunday.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// EveryDay has all seven weekdays enabled.
const EveryDay WeekdaySet = 0x7f

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

func (s WeekdaySet) Empty() bool { return s&EveryDay == 0 }

// Days returns the enabled weekdays in Sunday..Saturday order.
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// Snooze overrides the type schedule while enabled.
type Snooze struct {
	IsEnabled         bool
	ExecutionInterval time.Duration
	IntervalElapsed   time.Duration
}

type Reminder struct {
	ID               int64
	DogID            int64
	FamilyID         int64
	Action           ReminderAction
	CustomActionName string
	Schedule         Schedule
	ExecutionBasis   time.Time
	IsEnabled        bool
	IsDeleted        bool
	Snooze           Snooze
	LastModified     time.Time
}

func (r *Reminder) Type() ReminderType {
	if r.Schedule == nil {
		return ""
	}
	return r.Schedule.Type()
}

// Schedulable reports whether the reminder may hold a timer at all.
func (r *Reminder) Schedulable() bool {
	return r.IsEnabled && !r.IsDeleted && r.Schedule != nil
}

// Recurring is false only for one-time reminders.
func (r *Reminder) Recurring() bool {
	return r.Type() != ReminderOneTime
}

// DisplayAction returns the text shown in notifications.
func (r *Reminder) DisplayAction() string {
	return r.Action.DisplayName(r.CustomActionName)
}

func (r *Reminder) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("unknown reminderAction %q", r.Action)
	}
	if r.Action == ActionCustom && r.CustomActionName == "" {
		return fmt.Errorf("reminderCustomActionName is required for custom reminders")
	}
	if r.Action == ActionCustom && len(r.CustomActionName) > MaxCustomActionName {
		return fmt.Errorf("reminderCustomActionName longer than %d characters", MaxCustomActionName)
	}
	if r.Schedule == nil {
		return fmt.Errorf("reminderType is required")
	}
	if r.Snooze.IsEnabled && r.Snooze.ExecutionInterval <= 0 {
		return fmt.Errorf("snoozeExecutionInterval must be positive while snoozing")
	}
	if r.Snooze.ExecutionInterval < 0 || r.Snooze.IntervalElapsed < 0 {
		return fmt.Errorf("snooze durations must not be negative")
	}
	return r.Schedule.Validate()
}

// Clone returns a deep copy so callers can mutate the schedule freely.
func (r *Reminder) Clone() *Reminder {
	c := *r
	switch s := r.Schedule.(type) {
	case *OneTime:
		v := *s
		c.Schedule = &v
	case *Countdown:
		v := *s
		c.Schedule = &v
	case *Weekly:
		v := *s
		c.Schedule = &v
	case *Monthly:
		v := *s
		c.Schedule = &v
	}
	return &c
}

// SkipState returns the skip pair of Weekly and Monthly reminders.
func (r *Reminder) SkipState() (Skip, bool) {
	switch s := r.Schedule.(type) {
	case *Weekly:
		return s.Skip, true
	case *Monthly:
		return s.Skip, true
	}
	return Skip{}, false
}

// SetSkip replaces the skip pair; it is a no-op for other types.
func (r *Reminder) SetSkip(skip Skip) {
	switch s := r.Schedule.(type) {
	case *Weekly:
		s.Skip = skip
	case *Monthly:
		s.Skip = skip
	}
}

// State is the scheduling lifecycle stage derived from persisted flags.
type State string

const (
	StateActive   State = "active"
	StateDisabled State = "disabled"
	StateTerminal State = "terminal"
)

func (r *Reminder) State() State {
	if r.IsDeleted || (!r.IsEnabled && r.Type() == ReminderOneTime) {
		return StateTerminal
	}
	if !r.IsEnabled {
		return StateDisabled
	}
	return StateActive
}
