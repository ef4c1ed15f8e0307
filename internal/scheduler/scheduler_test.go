package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/events"
	"github.com/tazhate/hound/internal/notify"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/registry"
	"github.com/tazhate/hound/internal/storage"
)

// Monday 2024-01-01 09:00 UTC.
var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type recordingNotifier struct {
	mu   sync.Mutex
	occs []domain.Occurrence
	fail error
}

func (n *recordingNotifier) Go(_ context.Context, occ domain.Occurrence) <-chan notify.Outcome {
	n.mu.Lock()
	n.occs = append(n.occs, occ)
	fail := n.fail
	n.mu.Unlock()

	ch := make(chan notify.Outcome, 1)
	ch <- notify.Outcome{Occurrence: occ, Err: fail}
	close(ch)
	return ch
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.occs)
}

func (n *recordingNotifier) all() []domain.Occurrence {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Occurrence(nil), n.occs...)
}

type harness struct {
	sched    *Scheduler
	store    *storage.Storage
	clock    *clock.Mock
	reg      *registry.Registry
	notifier *recordingNotifier
	family   *domain.Family
	users    []*domain.User
	dog      *domain.Dog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := storage.New(storage.DriverModernc, filepath.Join(t.TempDir(), "hound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, notifier: &recordingNotifier{}}
	h.clock = clock.NewMock()
	h.clock.Set(t0)
	h.reg = registry.New(h.clock)

	h.family = &domain.Family{Name: "Smiths", CreatedAt: t0}
	require.NoError(t, store.CreateFamily(ctx, h.family))
	for _, name := range []string{"ann", "bob"} {
		u := &domain.User{FamilyID: h.family.ID, Name: name, NotificationToken: name, NotificationsEnabled: true, CreatedAt: t0}
		require.NoError(t, store.CreateUser(ctx, u))
		h.users = append(h.users, u)
	}
	h.dog = &domain.Dog{FamilyID: h.family.ID, Name: "Rex", LastModified: t0}
	require.NoError(t, store.CreateDog(ctx, h.dog))

	h.sched = New(store, recurrence.New(time.UTC), h.reg, h.notifier, h.clock, nil, cfg)
	ctx, cancel := context.WithCancel(ctx)
	h.sched.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.sched.Stop()
	})
	return h
}

func (h *harness) create(t *testing.T, sched domain.Schedule, mutate ...func(*domain.Reminder)) *domain.Reminder {
	t.Helper()
	r := &domain.Reminder{
		DogID:          h.dog.ID,
		FamilyID:       h.family.ID,
		Action:         domain.ActionFeed,
		Schedule:       sched,
		ExecutionBasis: h.clock.Now(),
		IsEnabled:      true,
		LastModified:   h.clock.Now(),
	}
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, h.store.CreateReminder(context.Background(), r))
	return r
}

func (h *harness) reload(t *testing.T, id int64) *domain.Reminder {
	t.Helper()
	r, err := h.store.GetReminder(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func TestOneTimeFiresOnceAndTerminates(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.OneTime{Date: t0.Add(10 * time.Second)})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(10*time.Second), at, 0)

	h.clock.Add(10 * time.Second)
	assert.Eventually(t, func() bool { return h.notifier.count() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, tick)

	stored := h.reload(t, r.ID)
	assert.Equal(t, domain.StateTerminal, stored.State())

	h.clock.Add(24 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.notifier.count(), "one-time reminders never re-arm")
}

func TestOverdueFiresImmediatelyOnce(t *testing.T) {
	h := newHarness(t, Config{})

	r := h.create(t, &domain.Weekly{Hour: 8, Weekdays: domain.EveryDay}, func(r *domain.Reminder) {
		r.ExecutionBasis = t0.AddDate(0, 0, -30)
	})
	require.NoError(t, h.sched.OnReminderUpserted(context.Background(), r))

	assert.Equal(t, 1, h.notifier.count(), "thirty missed days fire once")
	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), at, 0)

	stored := h.reload(t, r.ID)
	assert.WithinDuration(t, t0, stored.ExecutionBasis, 0)
}

func TestBootstrapRecovers(t *testing.T) {
	h := newHarness(t, Config{})

	overdue := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour}, func(r *domain.Reminder) {
		r.ExecutionBasis = t0.Add(-5 * time.Hour)
	})
	future := h.create(t, &domain.Weekly{Hour: 8, Weekdays: domain.EveryDay})
	h.create(t, &domain.Countdown{ExecutionInterval: time.Hour}, func(r *domain.Reminder) { r.IsEnabled = false })

	report, err := h.sched.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BootstrapReport{Loaded: 2, Armed: 2}, report)
	assert.Equal(t, 1, h.notifier.count())

	at, ok := h.sched.Armed(h.family.ID, overdue.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(time.Hour), at, 0, "exactly one future occurrence is re-armed")
	assert.True(t, h.reg.Has(registry.PrimaryKey(h.family.ID, future.ID)))
}

func TestEditsNeverDoubleArm(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	for i := 1; i <= 10; i++ {
		r.Schedule = &domain.Countdown{ExecutionInterval: time.Duration(i) * time.Minute}
		require.NoError(t, h.store.UpdateReminder(ctx, r, h.clock.Now()))
		require.NoError(t, h.sched.OnReminderUpserted(ctx, r))
		assert.Equal(t, 1, h.reg.Len())
	}

	h.clock.Add(10 * time.Minute)
	assert.Eventually(t, func() bool { return h.notifier.count() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return h.reg.Len() == 1 }, waitFor, tick)

	at, _ := h.sched.Armed(h.family.ID, r.ID)
	assert.WithinDuration(t, t0.Add(20*time.Minute), at, 0)
}

func TestSupersededTimerIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	// The store changes behind the scheduler's back.
	edited := r.Clone()
	edited.Schedule = &domain.Countdown{ExecutionInterval: 2 * time.Hour}
	require.NoError(t, h.store.UpdateReminder(ctx, edited, h.clock.Now()))

	h.clock.Add(time.Hour)
	assert.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, tick)

	report, err := h.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Missing: 1}, report)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.notifier.count(), "no fire for a superseded configuration")
	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(2*time.Hour), at, 0)
}

func TestOutOfOrderHooksArmLatestEdit(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})

	first := r.Clone()
	first.Schedule = &domain.Countdown{ExecutionInterval: 30 * time.Minute}
	require.NoError(t, h.store.UpdateReminder(ctx, first, h.clock.Now()))

	h.clock.Add(time.Second)
	second := first.Clone()
	second.Schedule = &domain.Countdown{ExecutionInterval: 10 * time.Minute}
	require.NoError(t, h.store.UpdateReminder(ctx, second, h.clock.Now()))

	require.NoError(t, h.sched.OnReminderUpserted(ctx, second))
	require.NoError(t, h.sched.OnReminderUpserted(ctx, first))

	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(10*time.Minute), at, 0)

	h.clock.Add(10 * time.Minute)
	assert.Eventually(t, func() bool { return h.notifier.count() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool {
		at, ok := h.sched.Armed(h.family.ID, r.ID)
		return ok && at.Equal(t0.Add(time.Second+20*time.Minute))
	}, waitFor, tick)
}

func TestDeleteCancels(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Minute})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))
	_, err := h.store.SoftDeleteReminder(ctx, r.ID, h.clock.Now())
	require.NoError(t, err)

	h.sched.OnReminderDeleted(ctx, h.family.ID, r.ID)
	h.sched.OnReminderDeleted(ctx, h.family.ID, r.ID)
	assert.Equal(t, 0, h.reg.Len())

	h.clock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.notifier.count())
}

func TestPauseExcludesPausedTime(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: 3600 * time.Second})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	h.clock.Add(1000 * time.Second)
	_, _, err := h.store.PauseFamily(ctx, h.family.ID, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.sched.OnFamilyPauseChanged(ctx, h.family.ID))
	assert.Equal(t, 0, h.reg.Len())

	h.clock.Add(4000 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.notifier.count())

	_, _, _, err = h.store.UnpauseFamily(ctx, h.family.ID, h.clock.Now(), recurrence.Unpaused)
	require.NoError(t, err)
	require.NoError(t, h.sched.OnFamilyPauseChanged(ctx, h.family.ID))

	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(7600*time.Second), at, 0)
}

func TestCreatedDuringPauseCountsFromUnpause(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.clock.Add(1000 * time.Second)
	_, _, err := h.store.PauseFamily(ctx, h.family.ID, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.sched.OnFamilyPauseChanged(ctx, h.family.ID))

	h.clock.Add(1000 * time.Second)
	long := h.create(t, &domain.Countdown{ExecutionInterval: 3600 * time.Second})
	short := h.create(t, &domain.Countdown{ExecutionInterval: 1000 * time.Second})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, long))
	require.NoError(t, h.sched.OnReminderUpserted(ctx, short))
	assert.Equal(t, 0, h.reg.Len())

	h.clock.Add(3000 * time.Second)
	_, _, _, err = h.store.UnpauseFamily(ctx, h.family.ID, h.clock.Now(), recurrence.Unpaused)
	require.NoError(t, err)
	require.NoError(t, h.sched.OnFamilyPauseChanged(ctx, h.family.ID))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.notifier.count(), "nothing is overdue right after the unpause")

	at, ok := h.sched.Armed(h.family.ID, long.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(8600*time.Second), at, 0)
	at, ok = h.sched.Armed(h.family.ID, short.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(6000*time.Second), at, 0)
}

func TestSnoozeFiresDuringPause(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, _, err := h.store.PauseFamily(ctx, h.family.ID, t0)
	require.NoError(t, err)

	snoozed := h.create(t, &domain.Weekly{Hour: 8, Weekdays: domain.EveryDay}, func(r *domain.Reminder) {
		r.Snooze = domain.Snooze{IsEnabled: true, ExecutionInterval: 5 * time.Minute}
	})
	plain := h.create(t, &domain.Countdown{ExecutionInterval: time.Minute})
	require.NoError(t, h.sched.OnFamilyPauseChanged(ctx, h.family.ID))

	assert.True(t, h.reg.Has(registry.PrimaryKey(h.family.ID, snoozed.ID)))
	assert.False(t, h.reg.Has(registry.PrimaryKey(h.family.ID, plain.ID)))

	h.clock.Add(5 * time.Minute)
	assert.Eventually(t, func() bool { return h.notifier.count() == 1 }, waitFor, tick)
	assert.False(t, h.reload(t, snoozed.ID).Snooze.IsEnabled, "firing consumes the snooze")
}

func TestEscalationFollowUps(t *testing.T) {
	h := newHarness(t, Config{EscalationDelay: 10 * time.Minute})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	h.clock.Add(time.Hour)
	assert.Eventually(t, func() bool { return h.reg.Len() == 3 }, waitFor, tick)
	assert.Equal(t, 1, h.notifier.count())

	h.clock.Add(10 * time.Minute)
	assert.Eventually(t, func() bool { return h.notifier.count() == 3 }, waitFor, tick)

	followUps := map[int64]bool{}
	for _, occ := range h.notifier.all()[1:] {
		assert.True(t, occ.FollowUp)
		followUps[occ.UserID] = true
	}
	assert.Equal(t, map[int64]bool{h.users[0].ID: true, h.users[1].ID: true}, followUps)
}

func TestAcknowledgeCancelsFollowUps(t *testing.T) {
	h := newHarness(t, Config{EscalationDelay: 10 * time.Minute})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))

	h.clock.Add(time.Hour)
	assert.Eventually(t, func() bool { return h.reg.Len() == 3 }, waitFor, tick)

	h.sched.CancelEscalations(r.ID)
	assert.Equal(t, 1, h.reg.Len())

	h.clock.Add(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.notifier.count())
}

func TestReconcileCancelsOrphans(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(ctx, r))
	_, err := h.store.SoftDeleteReminder(ctx, r.ID, h.clock.Now())
	require.NoError(t, err)

	report, err := h.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Orphaned: 1}, report)
	assert.Equal(t, 0, h.reg.Len())

	report, err = h.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)
}

func TestPassedSkipIsCleared(t *testing.T) {
	h := newHarness(t, Config{})

	r := h.create(t, &domain.Weekly{Hour: 8, Weekdays: domain.EveryDay,
		Skip: domain.Skip{IsSkipping: true, Date: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}})
	require.NoError(t, h.sched.OnReminderUpserted(context.Background(), r))

	skip, _ := h.reload(t, r.ID).SkipState()
	assert.False(t, skip.IsSkipping)
	at, _ := h.sched.Armed(h.family.ID, r.ID)
	assert.WithinDuration(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), at, 0)
}

func TestFirePublishesEvents(t *testing.T) {
	h := newHarness(t, Config{})
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	h.sched.broker = broker
	sub := broker.Subscribe()

	r := h.create(t, &domain.OneTime{Date: t0.Add(-time.Minute)})
	require.NoError(t, h.sched.OnReminderUpserted(context.Background(), r))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventReminderFired, ev.Type)
		assert.Equal(t, r.ID, ev.ReminderID)
		assert.False(t, ev.Reminder.IsEnabled)
	case <-time.After(waitFor):
		t.Fatal("no event published")
	}
}

func TestFailedDispatchStillRearms(t *testing.T) {
	h := newHarness(t, Config{})
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	h.sched.broker = broker
	sub := broker.Subscribe()
	h.notifier.fail = errors.New("push rejected")

	r := h.create(t, &domain.Countdown{ExecutionInterval: time.Hour})
	require.NoError(t, h.sched.OnReminderUpserted(context.Background(), r))

	h.clock.Add(time.Hour)
	deadline := time.After(waitFor)
	for failed := false; !failed; {
		select {
		case ev := <-sub:
			if ev.Type == events.EventNotificationFailed {
				failed = true
				assert.Equal(t, r.ID, ev.ReminderID)
				assert.Equal(t, "push rejected", ev.Message)
			}
		case <-deadline:
			t.Fatal("no notification.failed event")
		}
	}

	at, ok := h.sched.Armed(h.family.ID, r.ID)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(2*time.Hour), at, 0)
	assert.WithinDuration(t, t0.Add(time.Hour), h.reload(t, r.ID).ExecutionBasis, 0)
}
