package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/log"
)

// TelegramAPI is the part of tgbotapi.BotAPI the transport needs.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Keyboard builds the inline buttons attached to a push. A nil result sends
// the message without buttons.
type Keyboard func(msg Message) *tgbotapi.InlineKeyboardMarkup

// TelegramTransport delivers pushes as Telegram messages. The destination
// token is the numeric chat ID.
type TelegramTransport struct {
	api      TelegramAPI
	keyboard Keyboard
}

func NewTelegramTransport(api TelegramAPI) *TelegramTransport {
	return &TelegramTransport{api: api}
}

// WithKeyboard attaches kb's buttons to every push.
func (t *TelegramTransport) WithKeyboard(kb Keyboard) *TelegramTransport {
	t.keyboard = kb
	return t
}

func (t *TelegramTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.Token, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q", msg.Token)
	}

	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(msg.Title), html.EscapeString(msg.Body))
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if t.keyboard != nil {
		if kb := t.keyboard(msg); kb != nil {
			m.ReplyMarkup = *kb
		}
	}
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// LogTransport writes pushes to the log instead of delivering them. It is
// used when no push backend is configured.
type LogTransport struct {
	logger zerolog.Logger
}

func NewLogTransport() *LogTransport {
	return &LogTransport{logger: log.WithComponent("push")}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := t.logger.Info().Str("token", msg.Token).Str("title", msg.Title).Str("body", msg.Body)
	for k, v := range msg.Data {
		ev = ev.Str(k, v)
	}
	ev.Msg("push")
	return nil
}
