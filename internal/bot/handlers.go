package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/service"
)

const notLinked = "This chat is not linked to a family member. Send /start for details."

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

// member resolves the family member behind a chat. A nil user with a nil
// error means the chat is not registered.
func (b *Bot) member(ctx context.Context, chatID int64) (*domain.User, error) {
	return b.users.GetUserByNotificationToken(ctx, strconv.FormatInt(chatID, 10))
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	user, err := b.member(ctx, chatID)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to resolve chat")
		return
	}

	if !msg.IsCommand() {
		b.cmdHelp(chatID)
		return
	}
	b.handleCommand(ctx, msg, user)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	var chatID int64
	var msgID int
	switch {
	case cq.Message != nil && cq.Message.Chat != nil:
		chatID, msgID = cq.Message.Chat.ID, cq.Message.MessageID
	case cq.From != nil:
		chatID = cq.From.ID
	default:
		return
	}

	cb, err := parseCallback(cq.Data)
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("ignoring callback")
		b.answer(cq.ID, "Unknown action")
		return
	}

	user, err := b.member(ctx, chatID)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to resolve chat")
		b.answer(cq.ID, "Something went wrong, try again")
		return
	}
	if user == nil {
		b.answer(cq.ID, notLinked)
		return
	}

	var r *domain.Reminder
	var text string
	switch cb.verb {
	case verbDone:
		r, err = b.reminders.Complete(ctx, user.ID, cb.dogID, cb.reminderID, service.ActionComplete, "")
		if err == nil {
			text = fmt.Sprintf("✅ %s done", r.DisplayAction())
		}
	case verbSkip:
		r, err = b.reminders.Complete(ctx, user.ID, cb.dogID, cb.reminderID, service.ActionSkip, "")
		if err == nil {
			text = fmt.Sprintf("⏭ Next %s skipped", r.DisplayAction())
		}
	case verbSnooze:
		r, err = b.reminders.Snooze(ctx, user.ID, cb.dogID, cb.reminderID, cb.snooze)
		if err == nil {
			text = fmt.Sprintf("⏰ Snoozed until %s", r.ExecutionBasis.Add(cb.snooze).In(b.loc).Format("15:04"))
		}
	}
	if err != nil {
		b.logger.Warn().Err(err).
			Int64("user_id", user.ID).
			Int64("reminder_id", cb.reminderID).
			Str("verb", cb.verb).
			Msg("callback failed")
		b.answer(cq.ID, failure(err))
		return
	}

	b.answer(cq.ID, text)
	if msgID != 0 {
		b.clearKeyboard(chatID, msgID)
	}
}

// failure is the text shown for a failed button press. Server side detail
// stays in the log.
func failure(err error) string {
	if e, ok := apperr.As(err); ok && (e.Kind == apperr.KindValidation || e.Kind == apperr.KindNotFound) {
		return "❌ " + e.Message
	}
	return "❌ Something went wrong, try again"
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn().Err(err).Msg("failed to answer callback")
	}
}

// clearKeyboard removes the buttons of an acknowledged push so it cannot be
// pressed twice.
func (b *Bot) clearKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("failed to clear keyboard")
	}
}

func escape(s string) string { return html.EscapeString(s) }
