package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/storage"
)

type FamilyService struct {
	storage *storage.Storage
	sched   Scheduler
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewFamilyService(s *storage.Storage, sched Scheduler, clk clock.Clock) *FamilyService {
	if clk == nil {
		clk = clock.New()
	}
	return &FamilyService{
		storage: s,
		sched:   sched,
		clock:   clk,
		logger:  log.WithComponent("families"),
	}
}

// NewMember describes a user created together with a family.
type NewMember struct {
	Name  string
	Token string
}

// Create sets up a family with its members and dogs.
func (s *FamilyService) Create(ctx context.Context, name string, members []NewMember, dogs []string) (*domain.Family, []*domain.User, []*domain.Dog, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, nil, apperr.Missing("familyName")
	}
	if len(members) == 0 {
		return nil, nil, nil, apperr.Missing("users")
	}

	now := s.clock.Now()
	users := make([]*domain.User, 0, len(members))
	for _, m := range members {
		if strings.TrimSpace(m.Name) == "" {
			return nil, nil, nil, apperr.Missing("userName")
		}
		users = append(users, &domain.User{
			Name:                 strings.TrimSpace(m.Name),
			NotificationToken:    m.Token,
			NotificationsEnabled: m.Token != "",
			CreatedAt:            now,
		})
	}
	created := make([]*domain.Dog, 0, len(dogs))
	for _, dogName := range dogs {
		d := &domain.Dog{Name: strings.TrimSpace(dogName), LastModified: now}
		if d.Name == "" {
			return nil, nil, nil, apperr.Missing("dogName")
		}
		created = append(created, d)
	}

	family := &domain.Family{Name: name, CreatedAt: now}
	if err := s.storage.CreateFamilyWithMembers(ctx, family, users, created); err != nil {
		return nil, nil, nil, fmt.Errorf("create family: %w", err)
	}

	s.logger.Info().Int64("family_id", family.ID).Int("users", len(users)).Int("dogs", len(created)).Msg("family created")
	return family, users, created, nil
}

func (s *FamilyService) member(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user")
	}
	return user, nil
}

// Family returns the caller's family.
func (s *FamilyService) Family(ctx context.Context, userID int64) (*domain.Family, error) {
	user, err := s.member(ctx, userID)
	if err != nil {
		return nil, err
	}
	family, err := s.storage.GetFamily(ctx, user.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, apperr.NotFound("family")
	}
	return family, nil
}

// SetPaused pauses or resumes every reminder of the caller's family.
// Unpausing folds the paused time out of every schedulable reminder before
// the timers are re-derived.
func (s *FamilyService) SetPaused(ctx context.Context, userID int64, paused bool) (*domain.Family, error) {
	user, err := s.member(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var family *domain.Family
	var changed bool
	if paused {
		family, changed, err = s.storage.PauseFamily(ctx, user.FamilyID, now)
	} else {
		family, _, changed, err = s.storage.UnpauseFamily(ctx, user.FamilyID, now, recurrence.Unpaused)
	}
	if err != nil {
		return nil, fmt.Errorf("set family pause: %w", err)
	}
	if !changed {
		return family, nil
	}

	s.logger.Info().Int64("family_id", family.ID).Bool("paused", paused).Msg("family pause changed")
	if s.sched != nil {
		if err := s.sched.OnFamilyPauseChanged(ctx, family.ID); err != nil {
			s.logger.Error().Err(err).Int64("family_id", family.ID).Msg("failed to reschedule family")
		}
	}
	return family, nil
}

// DeleteDog soft-deletes a dog together with its reminders and cancels
// their timers.
func (s *FamilyService) DeleteDog(ctx context.Context, userID, dogID int64) error {
	user, err := s.member(ctx, userID)
	if err != nil {
		return err
	}
	dog, err := s.storage.GetDog(ctx, dogID)
	if err != nil {
		return err
	}
	if dog == nil || dog.IsDeleted || dog.FamilyID != user.FamilyID {
		return apperr.NotFound("dog")
	}

	reminders, err := s.storage.SoftDeleteDog(ctx, dog.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("delete dog: %w", err)
	}
	for _, r := range reminders {
		if s.sched != nil {
			s.sched.OnReminderDeleted(ctx, r.FamilyID, r.ID)
		}
	}
	s.logger.Info().Int64("dog_id", dog.ID).Int("reminders", len(reminders)).Msg("dog deleted")
	return nil
}

// UpdateNotifications stores the caller's push destination.
func (s *FamilyService) UpdateNotifications(ctx context.Context, userID int64, token string, enabled bool) (*domain.User, error) {
	if _, err := s.member(ctx, userID); err != nil {
		return nil, err
	}
	if enabled && strings.TrimSpace(token) == "" {
		return nil, apperr.Missing("notificationToken")
	}
	if err := s.storage.UpdateUserNotifications(ctx, userID, strings.TrimSpace(token), enabled); err != nil {
		return nil, fmt.Errorf("update notifications: %w", err)
	}
	return s.storage.GetUser(ctx, userID)
}
