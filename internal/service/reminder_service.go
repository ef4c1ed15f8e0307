package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/events"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/storage"
)

// Scheduler is the part of the scheduler driven by reminder and family
// mutations.
type Scheduler interface {
	OnReminderUpserted(ctx context.Context, r *domain.Reminder) error
	OnReminderDeleted(ctx context.Context, familyID, reminderID int64)
	OnFamilyPauseChanged(ctx context.Context, familyID int64) error
	CancelEscalations(reminderID int64)
}

// CompletionAction is what a family member did with a due reminder.
type CompletionAction string

const (
	ActionComplete CompletionAction = "complete"
	ActionSkip     CompletionAction = "skip"
)

// staleRetries bounds how often a completion is recomputed after losing a
// race against a fire or another edit.
const staleRetries = 3

type ReminderService struct {
	storage *storage.Storage
	sched   Scheduler
	calc    *recurrence.Calculator
	broker  *events.Broker
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewReminderService(s *storage.Storage, sched Scheduler, calc *recurrence.Calculator, broker *events.Broker, clk clock.Clock) *ReminderService {
	if clk == nil {
		clk = clock.New()
	}
	return &ReminderService{
		storage: s,
		sched:   sched,
		calc:    calc,
		broker:  broker,
		clock:   clk,
		logger:  log.WithComponent("reminders"),
	}
}

// access resolves the caller and checks the dog belongs to the caller's
// family.
func (s *ReminderService) access(ctx context.Context, userID, dogID int64) (*domain.User, *domain.Dog, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperr.NotFound("user")
	}
	dog, err := s.storage.GetDog(ctx, dogID)
	if err != nil {
		return nil, nil, err
	}
	if dog == nil || dog.IsDeleted || dog.FamilyID != user.FamilyID {
		return nil, nil, apperr.NotFound("dog")
	}
	return user, dog, nil
}

func (s *ReminderService) load(ctx context.Context, dog *domain.Dog, reminderID int64) (*domain.Reminder, error) {
	r, err := s.storage.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.IsDeleted || r.DogID != dog.ID {
		return nil, apperr.NotFound("reminder")
	}
	return r, nil
}

// Create stores a new reminder for the dog and arms it.
func (s *ReminderService) Create(ctx context.Context, userID, dogID int64, r *domain.Reminder) (*domain.Reminder, error) {
	_, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, apperr.InvalidErr(err)
	}

	now := s.clock.Now()
	r.DogID = dog.ID
	r.FamilyID = dog.FamilyID
	r.ExecutionBasis = now
	r.IsDeleted = false
	r.LastModified = now

	if err := s.storage.CreateReminder(ctx, r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	s.logger.Info().Int64("reminder_id", r.ID).Int64("dog_id", dog.ID).Str("type", string(r.Type())).Msg("reminder created")

	return s.upserted(ctx, r)
}

// Update replaces the configuration of an existing reminder. The execution
// basis restarts at the edit instant.
func (s *ReminderService) Update(ctx context.Context, userID, dogID, reminderID int64, r *domain.Reminder) (*domain.Reminder, error) {
	_, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, dog, reminderID)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, apperr.InvalidErr(err)
	}

	r.ID = current.ID
	r.DogID = current.DogID
	r.FamilyID = current.FamilyID
	r.ExecutionBasis = s.clock.Now()
	r.IsDeleted = false

	if err := s.storage.UpdateReminder(ctx, r, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	s.logger.Info().Int64("reminder_id", r.ID).Msg("reminder updated")

	return s.upserted(ctx, r)
}

// upserted announces the write, hands the reminder to the scheduler and
// returns it as stored afterwards; an overdue reminder has already fired.
func (s *ReminderService) upserted(ctx context.Context, r *domain.Reminder) (*domain.Reminder, error) {
	s.broker.Publish(&events.Event{
		Type: events.EventReminderUpserted, FamilyID: r.FamilyID, ReminderID: r.ID, Reminder: r,
	})
	if s.sched != nil {
		// The store is ground truth; reconcile re-arms what failed here.
		if err := s.sched.OnReminderUpserted(ctx, r); err != nil {
			s.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("failed to schedule reminder")
		}
	}

	stored, err := s.storage.GetReminder(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperr.NotFound("reminder")
	}
	return stored, nil
}

// Delete soft-deletes the reminder and cancels every timer it holds.
func (s *ReminderService) Delete(ctx context.Context, userID, dogID, reminderID int64) error {
	_, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return err
	}
	r, err := s.load(ctx, dog, reminderID)
	if err != nil {
		return err
	}

	deleted, err := s.storage.SoftDeleteReminder(ctx, r.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if !deleted {
		return apperr.NotFound("reminder")
	}
	if s.sched != nil {
		s.sched.OnReminderDeleted(ctx, r.FamilyID, r.ID)
	}
	s.logger.Info().Int64("reminder_id", r.ID).Msg("reminder deleted")
	return nil
}

// Get returns a reminder of the dog together with its next due instant.
func (s *ReminderService) Get(ctx context.Context, userID, dogID, reminderID int64) (*domain.Reminder, recurrence.Result, error) {
	_, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return nil, recurrence.Result{}, err
	}
	r, err := s.load(ctx, dog, reminderID)
	if err != nil {
		return nil, recurrence.Result{}, err
	}
	res, err := s.NextDue(ctx, r)
	if err != nil {
		return nil, recurrence.Result{}, err
	}
	return r, res, nil
}

// NextDue computes the next due instant of r against the family's current
// pause state without touching any timer.
func (s *ReminderService) NextDue(ctx context.Context, r *domain.Reminder) (recurrence.Result, error) {
	if !r.Schedulable() {
		return recurrence.Result{Never: true}, nil
	}
	family, err := s.storage.GetFamily(ctx, r.FamilyID)
	if err != nil {
		return recurrence.Result{}, err
	}
	return s.calc.NextDue(r, family.PauseState(), s.clock.Now()), nil
}

// Complete records that a family member handled the due occurrence, or
// skips the upcoming one. Pending follow-ups are cancelled either way.
func (s *ReminderService) Complete(ctx context.Context, userID, dogID, reminderID int64, action CompletionAction, note string) (*domain.Reminder, error) {
	user, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionComplete, ActionSkip:
	case "":
		return nil, apperr.Missing("action")
	default:
		return nil, apperr.Invalid("unknown action %q", action)
	}

	next, err := s.apply(ctx, dog, reminderID, func(r *domain.Reminder, now time.Time) (*domain.Reminder, *domain.Log, error) {
		if action == ActionSkip {
			// The skipped occurrence is the one due once the family resumes.
			next, err := s.calc.SkipNext(r, domain.PauseState{}, now)
			if err != nil {
				return nil, nil, apperr.InvalidErr(err)
			}
			return next, nil, nil
		}
		return recurrence.Fired(r, now), &domain.Log{
			DogID:            dog.ID,
			UserID:           user.ID,
			Action:           r.Action,
			CustomActionName: r.CustomActionName,
			Date:             now,
			Note:             note,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s reminder: %w", action, err)
	}

	s.logger.Info().
		Int64("reminder_id", next.ID).
		Int64("user_id", user.ID).
		Str("action", string(action)).
		Msg("reminder acknowledged")
	if s.sched != nil {
		s.sched.CancelEscalations(next.ID)
	}
	return s.upserted(ctx, next)
}

// Snooze postpones the reminder to now+d. The snooze overrides the schedule
// and the family pause until it fires. Pending follow-ups are cancelled.
func (s *ReminderService) Snooze(ctx context.Context, userID, dogID, reminderID int64, d time.Duration) (*domain.Reminder, error) {
	user, dog, err := s.access(ctx, userID, dogID)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, apperr.Invalid("snooze interval must be positive")
	}

	next, err := s.apply(ctx, dog, reminderID, func(r *domain.Reminder, now time.Time) (*domain.Reminder, *domain.Log, error) {
		if !r.Schedulable() {
			return nil, nil, apperr.Invalid("reminder is not active")
		}
		next := r.Clone()
		next.ExecutionBasis = now.UTC()
		next.Snooze = domain.Snooze{IsEnabled: true, ExecutionInterval: d}
		return next, nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("snooze reminder: %w", err)
	}

	s.logger.Info().
		Int64("reminder_id", next.ID).
		Int64("user_id", user.ID).
		Dur("interval", d).
		Msg("reminder snoozed")
	if s.sched != nil {
		s.sched.CancelEscalations(next.ID)
	}
	return s.upserted(ctx, next)
}

// apply writes the transition computed by fn against the latest stored
// version of the reminder, recomputing it when a concurrent write wins.
func (s *ReminderService) apply(ctx context.Context, dog *domain.Dog, reminderID int64,
	fn func(r *domain.Reminder, now time.Time) (*domain.Reminder, *domain.Log, error)) (*domain.Reminder, error) {
	for attempt := 0; ; attempt++ {
		r, err := s.load(ctx, dog, reminderID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()

		next, entry, err := fn(r, now)
		if err != nil {
			return nil, err
		}
		err = s.storage.ApplyOccurrence(ctx, r, next, entry, now)
		if storage.IsStale(err) && attempt < staleRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
}

// Sync returns the reminders of the caller's family modified after since,
// soft-deleted ones included, and records the synchronization.
func (s *ReminderService) Sync(ctx context.Context, userID int64, since time.Time) ([]*domain.Reminder, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user")
	}

	now := s.clock.Now()
	reminders, err := s.storage.ListFamilyReminders(ctx, user.FamilyID, since)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	if err := s.storage.UpdateUserSynchronization(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("record synchronization: %w", err)
	}
	return reminders, nil
}

// Agenda returns the live reminders of the caller's family and their dogs,
// the input of the calendar feed.
func (s *ReminderService) Agenda(ctx context.Context, userID int64) ([]*domain.Reminder, map[int64]*domain.Dog, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperr.NotFound("user")
	}

	all, err := s.storage.ListFamilyReminders(ctx, user.FamilyID, time.Time{})
	if err != nil {
		return nil, nil, fmt.Errorf("list reminders: %w", err)
	}
	reminders := make([]*domain.Reminder, 0, len(all))
	for _, r := range all {
		if !r.IsDeleted {
			reminders = append(reminders, r)
		}
	}

	dogs, err := s.storage.ListFamilyDogs(ctx, user.FamilyID)
	if err != nil {
		return nil, nil, fmt.Errorf("list dogs: %w", err)
	}
	byID := make(map[int64]*domain.Dog, len(dogs))
	for _, d := range dogs {
		byID[d.ID] = d
	}
	return reminders, byID, nil
}
