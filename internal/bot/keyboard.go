package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/notify"
)

const (
	verbDone   = "done"
	verbSkip   = "skip"
	verbSnooze = "snooze"
)

// callback is the decoded data of a reminder button:
// done:<dogId>:<reminderId>, skip:<dogId>:<reminderId> or
// snooze:<dogId>:<reminderId>:<minutes>.
type callback struct {
	verb       string
	dogID      int64
	reminderID int64
	snooze     time.Duration
}

func callbackData(verb string, dogID, reminderID int64, extra ...string) string {
	parts := append([]string{verb, strconv.FormatInt(dogID, 10), strconv.FormatInt(reminderID, 10)}, extra...)
	return strings.Join(parts, ":")
}

func parseCallback(data string) (callback, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return callback{}, fmt.Errorf("malformed callback %q", data)
	}

	var cb callback
	var err error
	cb.verb = parts[0]
	if cb.dogID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return callback{}, fmt.Errorf("malformed dog id in %q", data)
	}
	if cb.reminderID, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return callback{}, fmt.Errorf("malformed reminder id in %q", data)
	}

	switch cb.verb {
	case verbDone, verbSkip:
		if len(parts) != 3 {
			return callback{}, fmt.Errorf("malformed callback %q", data)
		}
	case verbSnooze:
		if len(parts) != 4 {
			return callback{}, fmt.Errorf("malformed callback %q", data)
		}
		minutes, err := strconv.Atoi(parts[3])
		if err != nil || minutes <= 0 {
			return callback{}, fmt.Errorf("malformed snooze in %q", data)
		}
		cb.snooze = time.Duration(minutes) * time.Minute
	default:
		return callback{}, fmt.Errorf("unknown callback %q", cb.verb)
	}
	return cb, nil
}

// ReminderKeyboard returns the buttons attached to a reminder push: done,
// skip for calendar schedules, and two snooze options.
func ReminderKeyboard(msg notify.Message) *tgbotapi.InlineKeyboardMarkup {
	dogID, err := strconv.ParseInt(msg.Data["dogId"], 10, 64)
	if err != nil {
		return nil
	}
	reminderID, err := strconv.ParseInt(msg.Data["reminderId"], 10, 64)
	if err != nil {
		return nil
	}

	first := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Done", callbackData(verbDone, dogID, reminderID)),
	)
	switch domain.ReminderType(msg.Data["type"]) {
	case domain.ReminderWeekly, domain.ReminderMonthly:
		first = append(first, tgbotapi.NewInlineKeyboardButtonData("⏭ Skip next", callbackData(verbSkip, dogID, reminderID)))
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		first,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏰ +15 min", callbackData(verbSnooze, dogID, reminderID, "15")),
			tgbotapi.NewInlineKeyboardButtonData("⏰ +1 h", callbackData(verbSnooze, dogID, reminderID, "60")),
		),
	)
	return &kb
}
