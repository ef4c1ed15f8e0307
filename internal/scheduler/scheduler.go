// Package scheduler keeps exactly one timer per schedulable reminder, fires
// due occurrences and re-arms recurring ones. The reminder store is ground
// truth; the registry is derived from it and may be rebuilt at any time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/events"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/metrics"
	"github.com/tazhate/hound/internal/notify"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/registry"
	"github.com/tazhate/hound/internal/storage"
)

// Store is the part of the reminder store the scheduler reads and writes.
type Store interface {
	GetReminder(ctx context.Context, id int64) (*domain.Reminder, error)
	GetFamily(ctx context.Context, id int64) (*domain.Family, error)
	ListFamilyUsers(ctx context.Context, familyID int64) ([]*domain.User, error)
	ListFamilyReminders(ctx context.Context, familyID int64, since time.Time) ([]*domain.Reminder, error)
	ListSchedulableReminders(ctx context.Context) ([]*domain.Reminder, error)
	ApplyOccurrence(ctx context.Context, prev, next *domain.Reminder, log *domain.Log, now time.Time) error
}

// Notifier dispatches an occurrence asynchronously and reports the outcome
// on the returned channel.
type Notifier interface {
	Go(ctx context.Context, occ domain.Occurrence) <-chan notify.Outcome
}

type Config struct {
	// EscalationDelay arms a per-user follow-up this long after a primary
	// fire. Zero disables escalation.
	EscalationDelay time.Duration
	StoreTimeout    time.Duration
}

// fireRequest is what a timer callback hands to the event loop. LastModified
// is the reminder version the timer was armed for.
type fireRequest struct {
	key          registry.Key
	lastModified time.Time
	at           time.Time
}

type Scheduler struct {
	store    Store
	calc     *recurrence.Calculator
	registry *registry.Registry
	notifier Notifier
	clock    clock.Clock
	broker   *events.Broker
	cfg      Config
	logger   zerolog.Logger

	// mu serializes every path that mutates registry or store state for a
	// reminder: API upserts and deletes, fires, pause changes, reconcile.
	mu sync.Mutex

	fires    chan fireRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Store, calc *recurrence.Calculator, reg *registry.Registry, notifier Notifier, clk clock.Clock, broker *events.Broker, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Scheduler{
		store:    store,
		calc:     calc,
		registry: reg,
		notifier: notifier,
		clock:    clk,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("scheduler"),
		fires:    make(chan fireRequest, 256),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the event loop that executes timer callbacks until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case req := <-s.fires:
				s.handle(ctx, req)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop cancels every timer and waits for the loop and pending dispatch
// watchers to finish. In-flight dispatches are not cancelled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.registry.Stop()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) enqueue(req fireRequest) {
	select {
	case s.fires <- req:
	case <-s.stopCh:
	}
}

func (s *Scheduler) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Scheduler) pauseState(ctx context.Context, familyID int64) (domain.PauseState, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	f, err := s.store.GetFamily(ctx, familyID)
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("load family %d: %w", familyID, err)
	}
	return f.PauseState(), nil
}

// OnReminderUpserted re-derives the timers of r after an API create or
// edit. The stored row is scheduled, not r, so hooks of concurrent edits
// that run out of order still arm the latest version. Follow-ups still
// pending for the previous configuration are dropped.
func (s *Scheduler) OnReminderUpserted(ctx context.Context, r *domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelEscalations(r.ID)

	rctx, cancel := s.storeCtx(ctx)
	stored, err := s.store.GetReminder(rctx, r.ID)
	cancel()
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", r.ID, err)
	}
	if stored == nil {
		s.cancelPrimary(r.FamilyID, r.ID)
		return nil
	}
	return s.schedule(ctx, stored)
}

// OnReminderDeleted cancels the primary timer and every follow-up of the
// reminder.
func (s *Scheduler) OnReminderDeleted(ctx context.Context, familyID, reminderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelPrimary(familyID, reminderID)
	s.cancelEscalations(reminderID)
	s.broker.Publish(&events.Event{Type: events.EventReminderDeleted, FamilyID: familyID, ReminderID: reminderID})
}

// OnFamilyPauseChanged re-derives every reminder of the family after a pause
// or unpause. While paused only snoozed reminders stay armed and follow-ups
// are dropped.
func (s *Scheduler) OnFamilyPauseChanged(ctx context.Context, familyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lctx, cancel := s.storeCtx(ctx)
	reminders, err := s.store.ListFamilyReminders(lctx, familyID, time.Time{})
	cancel()
	if err != nil {
		return fmt.Errorf("list family reminders: %w", err)
	}

	for _, key := range s.registry.CancelMatching(func(k registry.Key) bool {
		return k.Kind == registry.Primary && k.OwnerID == familyID
	}) {
		s.broker.Publish(&events.Event{Type: events.EventReminderCancelled, FamilyID: familyID, ReminderID: key.ReminderID})
	}
	for _, r := range reminders {
		s.cancelEscalations(r.ID)
	}

	var firstErr error
	for _, r := range reminders {
		if err := s.schedule(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// schedule cancels the primary timer of r and, if r is schedulable, arms it
// for its next due instant or fires it right away when that is overdue.
func (s *Scheduler) schedule(ctx context.Context, r *domain.Reminder) error {
	s.cancelPrimary(r.FamilyID, r.ID)
	if !r.Schedulable() {
		return nil
	}

	pause, err := s.pauseState(ctx, r.FamilyID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	res := s.calc.NextDue(r, pause, now)

	if res.ClearSkip {
		next := recurrence.ClearSkip(r)
		sctx, cancel := s.storeCtx(ctx)
		err := s.store.ApplyOccurrence(sctx, r, next, nil, now)
		cancel()
		switch {
		case err == nil:
			r = next
		case storage.IsStale(err):
			// A newer write is on its way through its own upsert.
			return nil
		default:
			s.logger.Warn().Err(err).Int64("reminder_id", r.ID).Msg("failed to clear passed skip")
		}
	}

	if res.Never {
		s.logger.Debug().Int64("reminder_id", r.ID).Msg("reminder not armed while family is paused")
		return nil
	}
	if res.Overdue(now) {
		metrics.CatchUpFires.Inc()
		return s.fire(ctx, r, pause, res, now)
	}
	s.arm(r, res.At)
	return nil
}

func (s *Scheduler) arm(r *domain.Reminder, at time.Time) {
	key := registry.PrimaryKey(r.FamilyID, r.ID)
	req := fireRequest{key: key, lastModified: r.LastModified, at: at}
	s.registry.Arm(key, at, func() { s.enqueue(req) })

	s.logger.Debug().Int64("reminder_id", r.ID).Time("at", at).Msg("reminder armed")
	s.broker.Publish(&events.Event{
		Type: events.EventReminderArmed, FamilyID: r.FamilyID, ReminderID: r.ID, Reminder: r, At: at,
	})
}

func (s *Scheduler) cancelPrimary(familyID, reminderID int64) {
	if s.registry.Cancel(registry.PrimaryKey(familyID, reminderID)) {
		s.broker.Publish(&events.Event{Type: events.EventReminderCancelled, FamilyID: familyID, ReminderID: reminderID})
	}
}

func (s *Scheduler) cancelEscalations(reminderID int64) {
	s.registry.CancelMatching(func(k registry.Key) bool {
		return k.Kind == registry.Secondary && k.ReminderID == reminderID
	})
}

// CancelEscalations drops pending follow-ups of a reminder, e.g. once a
// family member acknowledged the occurrence.
func (s *Scheduler) CancelEscalations(reminderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelEscalations(reminderID)
}

// handle runs on the event loop for every timer that went off.
func (s *Scheduler) handle(ctx context.Context, req fireRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.With().Str("key", req.key.String()).Logger()

	rctx, cancel := s.storeCtx(ctx)
	r, err := s.store.GetReminder(rctx, req.key.ReminderID)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load reminder for fire")
		return
	}
	// The timer belongs to a configuration that no longer exists.
	if r == nil || r.IsDeleted || !r.LastModified.Equal(req.lastModified) {
		logger.Debug().Msg("dropping fire for superseded reminder")
		return
	}

	pause, err := s.pauseState(ctx, r.FamilyID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load family for fire")
		return
	}

	if req.key.Kind == registry.Secondary {
		s.followUp(ctx, r, pause, req)
		return
	}
	if !r.IsEnabled {
		return
	}

	now := s.clock.Now()
	res := s.calc.NextDue(r, pause, now)
	switch {
	case res.Never:
		// Paused: the unpause path re-arms.
		logger.Debug().Msg("fire suppressed while family is paused")
	case !res.Overdue(now):
		// Woke up early, e.g. after a clock adjustment.
		s.arm(r, res.At)
	default:
		if err := s.fire(ctx, r, pause, res, now); err != nil {
			logger.Error().Err(err).Msg("fire failed")
		}
	}
}

// fire records one occurrence of r, re-arms recurring reminders and hands
// the notification to the dispatcher. The store write happens first so a
// notification is never sent for an occurrence that was not recorded.
func (s *Scheduler) fire(ctx context.Context, r *domain.Reminder, pause domain.PauseState, res recurrence.Result, now time.Time) error {
	logger := s.logger.With().Int64("reminder_id", r.ID).Int64("family_id", r.FamilyID).Logger()

	next := recurrence.Fired(r, now)
	sctx, cancel := s.storeCtx(ctx)
	err := s.store.ApplyOccurrence(sctx, r, next, nil, now)
	cancel()
	if storage.IsStale(err) {
		logger.Debug().Msg("reminder changed while firing, leaving it to the newer write")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record occurrence: %w", err)
	}

	metrics.ReminderFires.WithLabelValues(string(r.Type())).Inc()
	occ := domain.Occurrence{ID: uuid.NewString(), Reminder: r.Clone(), At: res.At}
	logger.Info().Str("occurrence_id", occ.ID).Time("due", res.At).Msg("reminder fired")
	s.broker.Publish(&events.Event{
		Type: events.EventReminderFired, FamilyID: r.FamilyID, ReminderID: r.ID, Reminder: next, At: res.At,
	})
	s.dispatch(occ)

	if s.cfg.EscalationDelay > 0 {
		s.armEscalations(ctx, next, now.Add(s.cfg.EscalationDelay))
	}

	if next.Schedulable() {
		if nres := s.calc.NextDue(next, pause, now); !nres.Never {
			s.arm(next, nres.At)
		}
	}
	return nil
}

func (s *Scheduler) dispatch(occ domain.Occurrence) {
	outcome := s.notifier.Go(context.Background(), occ)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, ok := <-outcome
		if !ok || out.Err == nil {
			return
		}
		s.broker.Publish(&events.Event{
			Type:       events.EventNotificationFailed,
			FamilyID:   occ.Reminder.FamilyID,
			ReminderID: occ.Reminder.ID,
			At:         occ.At,
			Message:    out.Err.Error(),
		})
	}()
}

func (s *Scheduler) armEscalations(ctx context.Context, r *domain.Reminder, at time.Time) {
	uctx, cancel := s.storeCtx(ctx)
	users, err := s.store.ListFamilyUsers(uctx, r.FamilyID)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Int64("reminder_id", r.ID).Msg("failed to load users for follow-ups")
		return
	}
	for _, u := range users {
		if !u.Notifiable() {
			continue
		}
		key := registry.SecondaryKey(u.ID, r.ID)
		req := fireRequest{key: key, lastModified: r.LastModified, at: at}
		s.registry.Arm(key, at, func() { s.enqueue(req) })
	}
}

// followUp re-notifies one user when nobody acknowledged the occurrence
// that armed the secondary timer.
func (s *Scheduler) followUp(ctx context.Context, r *domain.Reminder, pause domain.PauseState, req fireRequest) {
	if pause.Paused && !r.Snooze.IsEnabled {
		return
	}
	s.dispatch(domain.Occurrence{
		ID:       uuid.NewString(),
		Reminder: r.Clone(),
		At:       req.at,
		UserID:   req.key.OwnerID,
		FollowUp: true,
	})
}

// NextDue computes the next due instant of a stored reminder without
// touching any timer.
func (s *Scheduler) NextDue(ctx context.Context, r *domain.Reminder) (recurrence.Result, error) {
	if !r.Schedulable() {
		return recurrence.Result{Never: true}, nil
	}
	pause, err := s.pauseState(ctx, r.FamilyID)
	if err != nil {
		return recurrence.Result{}, err
	}
	return s.calc.NextDue(r, pause, s.clock.Now()), nil
}

// Armed reports the instant the primary timer of a reminder is armed for.
func (s *Scheduler) Armed(familyID, reminderID int64) (time.Time, bool) {
	return s.registry.At(registry.PrimaryKey(familyID, reminderID))
}
