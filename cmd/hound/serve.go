package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"github.com/tazhate/hound/internal/api"
	"github.com/tazhate/hound/internal/bot"
	"github.com/tazhate/hound/internal/calendar"
	"github.com/tazhate/hound/internal/events"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/notify"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/registry"
	"github.com/tazhate/hound/internal/scheduler"
	"github.com/tazhate/hound/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the REST API",
	Long: `Recover every armed reminder from the store, start the scheduler,
the maintenance jobs and the REST API, and run until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		logger := log.WithComponent("main")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var transport notify.Transport = notify.NewLogTransport()
		var tg *tgbotapi.BotAPI
		if cfg.TelegramToken != "" {
			if tg, err = tgbotapi.NewBotAPI(cfg.TelegramToken); err != nil {
				return fmt.Errorf("failed to init telegram: %w", err)
			}
			logger.Info().Str("bot", tg.Self.UserName).Msg("telegram authorized")
			transport = notify.NewTelegramTransport(tg).WithKeyboard(bot.ReminderKeyboard)
		} else {
			logger.Warn().Msg("TELEGRAM_BOT_TOKEN not set, pushes are only logged")
		}

		clk := clock.New()
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		calc := recurrence.New(cfg.Timezone)
		dispatcher := notify.NewDispatcher(transport, store, cfg.DispatchTimeout)
		sched := scheduler.New(store, calc, registry.New(clk), dispatcher, clk, broker, scheduler.Config{
			EscalationDelay: cfg.EscalationDelay,
			StoreTimeout:    cfg.StoreTimeout,
		})
		sched.Start(ctx)

		if _, err := sched.Bootstrap(ctx); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to recover reminders: %w", err)
		}

		maint := scheduler.NewMaintenance(scheduler.MaintenanceConfig{
			PurgeSchedule:     cfg.PurgeSchedule,
			ReconcileSchedule: cfg.ReconcileSchedule,
		}, sched, store)
		if err := maint.Start(ctx); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to start maintenance: %w", err)
		}

		builder := calendar.NewBuilder(calc)
		var mirror *calendar.Mirror
		if cfg.CalDAVEnabled() {
			client := calendar.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar)
			mirror = calendar.NewMirror(client, store, builder, broker, clk)
			mirror.Start(ctx)
		}

		reminders := service.NewReminderService(store, sched, calc, broker, clk)
		families := service.NewFamilyService(store, sched, clk)
		server := api.NewServer(reminders, families, store, builder, clk)

		var companion *bot.Bot
		if tg != nil {
			companion = bot.New(tg, store, reminders, families, cfg.Timezone)
			if err := companion.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to start telegram bot")
				companion = nil
			}
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(":" + cfg.ServerPort); err != nil {
				errCh <- err
			}
		}()

		logger.Info().
			Str("version", Version).
			Str("timezone", cfg.Timezone.String()).
			Bool("caldav", cfg.CalDAVEnabled()).
			Msg("hound started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case runErr = <-errCh:
			logger.Error().Err(runErr).Msg("api server failed")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error stopping api")
		}

		if companion != nil {
			companion.Stop()
		}
		maint.Stop()
		sched.Stop()
		if mirror != nil {
			mirror.Stop()
		}
		cancel()

		logger.Info().Msg("hound stopped")
		return runErr
	},
}
