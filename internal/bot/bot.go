// Package bot is the Telegram side of the push channel: it answers the
// buttons attached to reminder pushes and a handful of family commands.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/service"
)

// botAPI is the part of tgbotapi.BotAPI the handlers need.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Users resolves the member a chat belongs to. The chat ID is the user's
// notification token.
type Users interface {
	GetUserByNotificationToken(ctx context.Context, token string) (*domain.User, error)
}

type Bot struct {
	tg        *tgbotapi.BotAPI
	api       botAPI
	users     Users
	reminders *service.ReminderService
	families  *service.FamilyService
	loc       *time.Location
	timeout   time.Duration
	logger    zerolog.Logger

	wg sync.WaitGroup
}

func New(tg *tgbotapi.BotAPI, users Users, reminders *service.ReminderService, families *service.FamilyService, loc *time.Location) *Bot {
	b := newBot(tg, users, reminders, families, loc)
	b.tg = tg
	return b
}

func newBot(api botAPI, users Users, reminders *service.ReminderService, families *service.FamilyService, loc *time.Location) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		api:       api,
		users:     users,
		reminders: reminders,
		families:  families,
		loc:       loc,
		timeout:   10 * time.Second,
		logger:    log.WithComponent("bot"),
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "agenda", Description: "🗓 Upcoming reminders"},
		{Command: "pause", Description: "⏸ Pause the family's reminders"},
		{Command: "resume", Description: "▶️ Resume reminders"},
		{Command: "help", Description: "❓ Help"},
	}

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		b.logger.Warn().Err(err).Msg("failed to set commands")
	}
}

// Start long-polls Telegram for updates until ctx is done or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	if b.tg == nil {
		return fmt.Errorf("bot has no telegram client")
	}
	b.setCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.handleUpdate(ctx, update)
			}
		}
	}()

	b.logger.Info().Str("bot", b.tg.Self.UserName).Msg("bot started")
	return nil
}

func (b *Bot) Stop() {
	if b.tg != nil {
		b.tg.StopReceivingUpdates()
	}
	b.wg.Wait()
}

func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
