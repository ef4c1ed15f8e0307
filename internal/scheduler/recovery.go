package scheduler

import (
	"context"
	"fmt"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/metrics"
	"github.com/tazhate/hound/internal/registry"
)

// BootstrapReport summarizes a recovery pass.
type BootstrapReport struct {
	Loaded int
	Armed  int
	Failed int
}

// Bootstrap rebuilds the registry from the store on process start. Every
// enabled, non-deleted reminder is scheduled against the current instant,
// which fires each overdue reminder once and arms its next occurrence.
func (s *Scheduler) Bootstrap(ctx context.Context) (BootstrapReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report BootstrapReport
	lctx, cancel := s.storeCtx(ctx)
	reminders, err := s.store.ListSchedulableReminders(lctx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("list schedulable reminders: %w", err)
	}

	report.Loaded = len(reminders)
	for _, r := range reminders {
		if err := s.schedule(ctx, r); err != nil {
			report.Failed++
			s.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("failed to recover reminder")
			continue
		}
		if s.registry.Has(registry.PrimaryKey(r.FamilyID, r.ID)) {
			report.Armed++
		}
	}

	s.logger.Info().
		Int("loaded", report.Loaded).
		Int("armed", report.Armed).
		Int("failed", report.Failed).
		Msg("scheduler recovered")
	return report, nil
}

// ReconcileReport counts the registry entries repaired by Reconcile.
type ReconcileReport struct {
	Missing  int
	Orphaned int
}

// Reconcile compares the registry with the store and repairs drift: enabled
// reminders without a timer are scheduled again, timers without a
// schedulable reminder are cancelled. The store always wins.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport
	lctx, cancel := s.storeCtx(ctx)
	reminders, err := s.store.ListSchedulableReminders(lctx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("list schedulable reminders: %w", err)
	}

	pauses := make(map[int64]domain.PauseState)
	expected := make(map[registry.Key]bool, len(reminders))
	for _, r := range reminders {
		key := registry.PrimaryKey(r.FamilyID, r.ID)
		pause, ok := pauses[r.FamilyID]
		if !ok {
			if pause, err = s.pauseState(ctx, r.FamilyID); err != nil {
				return report, err
			}
			pauses[r.FamilyID] = pause
		}
		if s.calc.NextDue(r, pause, s.clock.Now()).Never {
			continue
		}
		expected[key] = true
		if s.registry.Has(key) {
			continue
		}

		s.logger.Warn().Err(apperr.Inconsistency("reminder %d enabled but not armed", r.ID)).Msg("repairing registry")
		report.Missing++
		metrics.ReconcileRepairs.WithLabelValues("missing").Inc()
		if err := s.schedule(ctx, r); err != nil {
			s.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("failed to re-arm reminder")
		}
	}

	for _, key := range s.registry.Keys() {
		if key.Kind != registry.Primary || expected[key] {
			continue
		}
		s.logger.Warn().Err(apperr.Inconsistency("timer %s has no schedulable reminder", key)).Msg("repairing registry")
		report.Orphaned++
		metrics.ReconcileRepairs.WithLabelValues("orphaned").Inc()
		s.cancelPrimary(key.OwnerID, key.ReminderID)
	}

	if report.Missing > 0 || report.Orphaned > 0 {
		s.logger.Info().Int("missing", report.Missing).Int("orphaned", report.Orphaned).Msg("registry reconciled")
	}
	return report, nil
}
