package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/events"
	"github.com/tazhate/hound/internal/log"
)

// Remote is the calendar collection reminders are mirrored into.
type Remote interface {
	PutEvent(ctx context.Context, uid string, cal *ical.Calendar) error
	DeleteEvent(ctx context.Context, uid string) error
}

// Lookup resolves what an event needs beyond the reminder itself.
type Lookup interface {
	GetDog(ctx context.Context, id int64) (*domain.Dog, error)
	GetFamily(ctx context.Context, id int64) (*domain.Family, error)
}

// Mirror keeps one CalDAV event per live reminder in sync with the
// reminder lifecycle events published on the broker.
type Mirror struct {
	remote  Remote
	lookup  Lookup
	builder *Builder
	broker  *events.Broker
	clock   clock.Clock
	timeout time.Duration
	logger  zerolog.Logger

	sub events.Subscriber
	wg  sync.WaitGroup
}

func NewMirror(remote Remote, lookup Lookup, builder *Builder, broker *events.Broker, clk clock.Clock) *Mirror {
	if clk == nil {
		clk = clock.New()
	}
	return &Mirror{
		remote:  remote,
		lookup:  lookup,
		builder: builder,
		broker:  broker,
		clock:   clk,
		timeout: 30 * time.Second,
		logger:  log.WithComponent("caldav"),
	}
}

// Start subscribes to the broker and mirrors events until Stop.
func (m *Mirror) Start(ctx context.Context) {
	m.sub = m.broker.Subscribe()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for ev := range m.sub {
			if err := m.handle(ctx, ev); err != nil {
				m.logger.Warn().Err(err).
					Str("event", string(ev.Type)).
					Int64("reminder_id", ev.ReminderID).
					Msg("calendar mirror failed")
			}
		}
	}()
	m.logger.Info().Msg("calendar mirror started")
}

func (m *Mirror) Stop() {
	if m.sub == nil {
		return
	}
	m.broker.Unsubscribe(m.sub)
	m.wg.Wait()
}

func (m *Mirror) handle(ctx context.Context, ev *events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	uid := UID(ev.FamilyID, ev.ReminderID)
	switch ev.Type {
	case events.EventReminderDeleted:
		return m.remote.DeleteEvent(ctx, uid)
	case events.EventReminderUpserted, events.EventReminderFired:
		if ev.Reminder == nil {
			return nil
		}
		return m.sync(ctx, uid, ev.Reminder)
	}
	return nil
}

func (m *Mirror) sync(ctx context.Context, uid string, r *domain.Reminder) error {
	if !r.Schedulable() {
		return m.remote.DeleteEvent(ctx, uid)
	}

	dog, err := m.lookup.GetDog(ctx, r.DogID)
	if err != nil {
		return fmt.Errorf("load dog: %w", err)
	}
	family, err := m.lookup.GetFamily(ctx, r.FamilyID)
	if err != nil {
		return fmt.Errorf("load family: %w", err)
	}
	var dogName string
	if dog != nil {
		dogName = dog.Name
	}

	event := m.builder.Event(r, dogName, family.PauseState(), m.clock.Now())
	if event == nil {
		return m.remote.DeleteEvent(ctx, uid)
	}
	m.logger.Debug().Str("uid", uid).Msg("mirroring reminder")
	return m.remote.PutEvent(ctx, uid, Single(event))
}
