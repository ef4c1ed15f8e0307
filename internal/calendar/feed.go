// Package calendar renders reminders as iCalendar events, both for the .ics
// feed and for the CalDAV mirror.
package calendar

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/teambition/rrule-go"
)

const (
	ProductID = "-//Hound//Reminders//EN"
	// EventDuration is the length given to every reminder event.
	EventDuration = 15 * time.Minute
)

var weekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// UID returns the stable event UID of a reminder.
func UID(familyID, reminderID int64) string {
	return fmt.Sprintf("%d-%d@hound", familyID, reminderID)
}

type Builder struct {
	calc *recurrence.Calculator
}

func NewBuilder(calc *recurrence.Calculator) *Builder {
	return &Builder{calc: calc}
}

// Event returns the VEVENT of a reminder starting at its next due instant,
// or nil when the reminder has no upcoming occurrence.
func (b *Builder) Event(r *domain.Reminder, dogName string, pause domain.PauseState, now time.Time) *ical.Event {
	if !r.Schedulable() {
		return nil
	}
	res := b.calc.NextDue(r, pause, now)
	if res.Never {
		return nil
	}

	loc := b.calc.Location()
	start := res.At.In(loc)

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, UID(r.FamilyID, r.ID))
	event.Props.SetText(ical.PropSummary, summary(r, dogName))
	event.Props.SetText(ical.PropDescription, fmt.Sprintf("%s reminder", r.Type()))
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	if !r.LastModified.IsZero() {
		event.Props.SetDateTime(ical.PropLastModified, r.LastModified.UTC())
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(EventDuration))

	// A snoozed occurrence is a one-off; the rule resumes after it fires.
	if !res.Snoozed {
		if rule := Rule(r); rule != nil {
			event.Props.SetRecurrenceRule(rule)
		}
	}
	return event
}

func summary(r *domain.Reminder, dogName string) string {
	if dogName == "" {
		return r.DisplayAction()
	}
	return dogName + ": " + r.DisplayAction()
}

// Rule returns the recurrence rule of Weekly and Monthly reminders; the
// wall-clock fields are relative to the event's DTSTART zone. Monthly days
// past the 28th pick the last existing day, so the 31st falls back to the
// 30th, 29th or 28th like the scheduler does.
func Rule(r *domain.Reminder) *rrule.ROption {
	switch s := r.Schedule.(type) {
	case *domain.Weekly:
		days := s.Weekdays.Days()
		byDay := make([]rrule.Weekday, 0, len(days))
		for _, d := range days {
			byDay = append(byDay, weekdays[d])
		}
		return &rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: byDay,
			Byhour:    []int{s.Hour},
			Byminute:  []int{s.Minute},
		}
	case *domain.Monthly:
		opt := &rrule.ROption{
			Freq:     rrule.MONTHLY,
			Byhour:   []int{s.Hour},
			Byminute: []int{s.Minute},
		}
		if s.Day <= 28 {
			opt.Bymonthday = []int{s.Day}
			return opt
		}
		for d := 28; d <= s.Day; d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
		return opt
	}
	return nil
}

// Feed returns a calendar with one event per reminder that has an upcoming
// occurrence.
func (b *Builder) Feed(reminders []*domain.Reminder, dogs map[int64]*domain.Dog, pause domain.PauseState, now time.Time) *ical.Calendar {
	cal := newCalendar()
	for _, r := range reminders {
		var dogName string
		if d := dogs[r.DogID]; d != nil {
			dogName = d.Name
		}
		if event := b.Event(r, dogName, pause, now); event != nil {
			cal.Children = append(cal.Children, event.Component)
		}
	}
	return cal
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// Single wraps one event in its own calendar object, the unit CalDAV stores.
func Single(event *ical.Event) *ical.Calendar {
	cal := newCalendar()
	cal.Children = append(cal.Children, event.Component)
	return cal
}

// Encode writes cal as text/calendar. go-ical refuses calendars without
// components, so an empty feed is written by hand.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if len(cal.Children) == 0 {
		_, err := fmt.Fprintf(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", ProductID)
		return err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
