package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/hound/internal/domain"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.cmdStart(chatID, user)
	case "help":
		b.cmdHelp(chatID)
	case "agenda":
		b.cmdAgenda(ctx, chatID, user)
	case "pause":
		b.cmdPause(ctx, chatID, user, true)
	case "resume":
		b.cmdPause(ctx, chatID, user, false)
	default:
		b.SendMessage(chatID, "Unknown command. /help lists them.")
	}
}

func (b *Bot) cmdStart(chatID int64, user *domain.User) {
	if user != nil {
		b.SendMessage(chatID, fmt.Sprintf("👋 Hi %s! Your family's reminders are delivered to this chat.\n\n/help lists the commands.", escape(user.Name)))
		return
	}
	b.SendMessage(chatID, fmt.Sprintf(
		"👋 Hi! Your chat ID is <code>%d</code>.\n\nSet it as your notification token in the app to receive your family's reminders here.",
		chatID))
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Commands:</b>

/agenda - upcoming reminders
/pause - pause every reminder of the family
/resume - resume reminders
/start - show this chat's ID

Reminder pushes carry buttons to mark them done, skip the next occurrence or snooze them.`
	b.SendMessage(chatID, text)
}

type agendaItem struct {
	at    time.Time
	label string
}

func (b *Bot) cmdAgenda(ctx context.Context, chatID int64, user *domain.User) {
	if user == nil {
		b.SendMessage(chatID, notLinked)
		return
	}

	family, err := b.families.Family(ctx, user.ID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to load family")
		b.SendMessage(chatID, "❌ Could not load the agenda")
		return
	}
	reminders, dogs, err := b.reminders.Agenda(ctx, user.ID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to load agenda")
		b.SendMessage(chatID, "❌ Could not load the agenda")
		return
	}

	var items []agendaItem
	for _, r := range reminders {
		res, err := b.reminders.NextDue(ctx, r)
		if err != nil {
			b.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("failed to compute next due")
			continue
		}
		if res.Never {
			continue
		}
		label := r.DisplayAction()
		if d, ok := dogs[r.DogID]; ok {
			label = d.Name + ": " + label
		}
		if r.Snooze.IsEnabled {
			label += " (snoozed)"
		}
		items = append(items, agendaItem{at: res.At, label: label})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })

	var sb strings.Builder
	sb.WriteString("🗓 <b>Upcoming reminders</b>\n")
	if family.IsPaused {
		sb.WriteString("⏸ The family is paused; only snoozed reminders will fire.\n")
	}
	if len(items) == 0 {
		sb.WriteString("\nNothing scheduled.")
	}
	for _, it := range items {
		fmt.Fprintf(&sb, "\n• %s  %s", it.at.In(b.loc).Format("Mon 2 Jan 15:04"), escape(it.label))
	}
	b.SendMessage(chatID, sb.String())
}

func (b *Bot) cmdPause(ctx context.Context, chatID int64, user *domain.User, paused bool) {
	if user == nil {
		b.SendMessage(chatID, notLinked)
		return
	}

	if _, err := b.families.SetPaused(ctx, user.ID, paused); err != nil {
		b.logger.Error().Err(err).Int64("user_id", user.ID).Bool("paused", paused).Msg("failed to change pause")
		b.SendMessage(chatID, "❌ Could not change the pause state")
		return
	}
	if paused {
		b.SendMessage(chatID, "⏸ Reminders paused for the whole family. /resume to continue.")
	} else {
		b.SendMessage(chatID, "▶️ Reminders resumed.")
	}
}
