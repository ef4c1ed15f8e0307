// Package events fans scheduler and API activity out to in-process
// subscribers such as the calendar mirror.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/hound/internal/domain"
)

// EventType represents the type of event
type EventType string

const (
	EventReminderUpserted   EventType = "reminder.upserted"
	EventReminderDeleted    EventType = "reminder.deleted"
	EventReminderArmed      EventType = "reminder.armed"
	EventReminderFired      EventType = "reminder.fired"
	EventReminderCancelled  EventType = "reminder.cancelled"
	EventNotificationFailed EventType = "notification.failed"
)

type Event struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	FamilyID   int64
	ReminderID int64
	// Reminder is a snapshot taken when the event was published. It may be
	// nil for deletions.
	Reminder *domain.Reminder
	// At is the due instant for armed and fired events.
	At       time.Time
	Message  string
	Metadata map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It never blocks: when the
// queue is full or the broker is stopped the event is dropped.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Reminder != nil {
		event.Reminder = event.Reminder.Clone()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
