package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/storage"
)

// Purger hard-deletes soft-deleted rows every family member synced past.
type Purger interface {
	Purge(ctx context.Context) (storage.PurgeResult, error)
}

type MaintenanceConfig struct {
	PurgeSchedule     string
	ReconcileSchedule string
}

// Maintenance runs the periodic housekeeping jobs on a cron.
type Maintenance struct {
	cron      *cron.Cron
	cfg       MaintenanceConfig
	scheduler *Scheduler
	purger    Purger
	logger    zerolog.Logger
}

func NewMaintenance(cfg MaintenanceConfig, sched *Scheduler, purger Purger) *Maintenance {
	c := cron.New(cron.WithLocation(sched.calc.Location()))

	return &Maintenance{
		cron:      c,
		cfg:       cfg,
		scheduler: sched,
		purger:    purger,
		logger:    log.WithComponent("maintenance"),
	}
}

func (m *Maintenance) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.cfg.PurgeSchedule, func() { m.purge(ctx) }); err != nil {
		return fmt.Errorf("add purge job: %w", err)
	}
	if _, err := m.cron.AddFunc(m.cfg.ReconcileSchedule, func() { m.reconcile(ctx) }); err != nil {
		return fmt.Errorf("add reconcile job: %w", err)
	}

	m.cron.Start()
	m.logger.Info().
		Str("purge", m.cfg.PurgeSchedule).
		Str("reconcile", m.cfg.ReconcileSchedule).
		Msg("maintenance started")
	return nil
}

func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("maintenance stopped")
}

func (m *Maintenance) purge(ctx context.Context) {
	if _, err := RunPurge(ctx, m.purger, m.logger); err != nil {
		m.logger.Error().Err(err).Msg("purge failed")
	}
}

func (m *Maintenance) reconcile(ctx context.Context) {
	if _, err := m.scheduler.Reconcile(ctx); err != nil {
		m.logger.Error().Err(err).Msg("reconcile failed")
	}
}

// RunPurge runs one purge pass and logs what it removed.
func RunPurge(ctx context.Context, p Purger, logger zerolog.Logger) (storage.PurgeResult, error) {
	res, err := p.Purge(ctx)
	if err != nil {
		return res, err
	}
	logger.Info().
		Int64("reminders", res.Reminders).
		Int64("logs", res.Logs).
		Int64("dogs", res.Dogs).
		Msg("purged soft-deleted rows")
	return res, nil
}
