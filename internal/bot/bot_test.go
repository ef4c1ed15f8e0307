package bot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/notify"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/service"
	"github.com/tazhate/hound/internal/storage"
)

// Monday 2024-01-01 09:00 UTC.
var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeAPI struct {
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) answers() []string {
	var out []string
	for _, r := range f.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

type env struct {
	bot       *Bot
	api       *fakeAPI
	store     *storage.Storage
	clock     *clock.Mock
	reminders *service.ReminderService
	families  *service.FamilyService
	user      *domain.User
	dog       *domain.Dog
}

const chatID = 1001

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.New(storage.DriverModernc, filepath.Join(t.TempDir(), "hound.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mock := clock.NewMock()
	mock.Set(t0)
	reminders := service.NewReminderService(store, nil, recurrence.New(time.UTC), nil, mock)
	families := service.NewFamilyService(store, nil, mock)

	_, users, dogs, err := families.Create(context.Background(), "Smiths",
		[]service.NewMember{{Name: "ann", Token: "1001"}}, []string{"Rex"})
	require.NoError(t, err)

	api := &fakeAPI{}
	return &env{
		bot:       newBot(api, store, reminders, families, time.UTC),
		api:       api,
		store:     store,
		clock:     mock,
		reminders: reminders,
		families:  families,
		user:      users[0],
		dog:       dogs[0],
	}
}

func (e *env) weekly(t *testing.T) *domain.Reminder {
	t.Helper()
	r, err := e.reminders.Create(context.Background(), e.user.ID, e.dog.ID, &domain.Reminder{
		Action:    domain.ActionWalk,
		Schedule:  &domain.Weekly{Hour: 8, Weekdays: domain.NewWeekdaySet(time.Monday)},
		IsEnabled: true,
	})
	require.NoError(t, err)
	return r
}

func press(chat int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: chat},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: chat}},
		Data:    data,
	}}
}

func command(chat int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: chat},
		Chat:      &tgbotapi.Chat{ID: chat},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func TestParseCallback(t *testing.T) {
	cb, err := parseCallback("snooze:3:10:15")
	require.NoError(t, err)
	assert.Equal(t, callback{verb: verbSnooze, dogID: 3, reminderID: 10, snooze: 15 * time.Minute}, cb)

	cb, err = parseCallback(callbackData(verbDone, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, callback{verb: verbDone, dogID: 3, reminderID: 10}, cb)

	for _, bad := range []string{"", "done:3", "done:x:10", "done:3:10:1", "snooze:3:10", "snooze:3:10:0", "feed:3:10"} {
		_, err := parseCallback(bad)
		assert.Error(t, err, bad)
	}
}

func TestReminderKeyboard(t *testing.T) {
	kb := ReminderKeyboard(notify.Message{Data: map[string]string{"dogId": "3", "reminderId": "10", "type": "weekly"}})
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 2)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "done:3:10", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "skip:3:10", *kb.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "snooze:3:10:15", *kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "snooze:3:10:60", *kb.InlineKeyboard[1][1].CallbackData)

	kb = ReminderKeyboard(notify.Message{Data: map[string]string{"dogId": "3", "reminderId": "10", "type": "countdown"}})
	require.NotNil(t, kb)
	assert.Len(t, kb.InlineKeyboard[0], 1, "countdowns cannot skip")

	assert.Nil(t, ReminderKeyboard(notify.Message{Data: map[string]string{"dogId": "3"}}))
}

func TestDoneButtonCompletes(t *testing.T) {
	e := newEnv(t)
	r := e.weekly(t)

	e.bot.handleUpdate(context.Background(), press(chatID, callbackData(verbDone, e.dog.ID, r.ID)))

	assert.Equal(t, []string{"✅ Walk done"}, e.api.answers())
	require.Len(t, e.api.requests, 2)
	edit, ok := e.api.requests[1].(tgbotapi.EditMessageReplyMarkupConfig)
	require.True(t, ok)
	assert.Equal(t, 42, edit.MessageID)

	logs, err := e.store.ListDogLogs(context.Background(), e.dog.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, e.user.ID, logs[0].UserID)
}

func TestSkipButtonSkipsNext(t *testing.T) {
	e := newEnv(t)
	r := e.weekly(t)

	e.bot.handleUpdate(context.Background(), press(chatID, callbackData(verbSkip, e.dog.ID, r.ID)))
	assert.Equal(t, []string{"⏭ Next Walk skipped"}, e.api.answers())

	stored, err := e.store.GetReminder(context.Background(), r.ID)
	require.NoError(t, err)
	skip, ok := stored.SkipState()
	require.True(t, ok)
	assert.True(t, skip.IsSkipping)
}

func TestSnoozeButton(t *testing.T) {
	e := newEnv(t)
	r := e.weekly(t)

	e.bot.handleUpdate(context.Background(), press(chatID, callbackData(verbSnooze, e.dog.ID, r.ID, "15")))
	assert.Equal(t, []string{"⏰ Snoozed until 09:15"}, e.api.answers())

	stored, err := e.store.GetReminder(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, stored.Snooze.IsEnabled)
	assert.Equal(t, 15*time.Minute, stored.Snooze.ExecutionInterval)
}

func TestButtonFromUnknownChat(t *testing.T) {
	e := newEnv(t)
	r := e.weekly(t)

	e.bot.handleUpdate(context.Background(), press(999, callbackData(verbDone, e.dog.ID, r.ID)))
	assert.Equal(t, []string{notLinked}, e.api.answers())

	logs, err := e.store.ListDogLogs(context.Background(), e.dog.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestButtonForDeletedReminder(t *testing.T) {
	e := newEnv(t)
	r := e.weekly(t)
	require.NoError(t, e.reminders.Delete(context.Background(), e.user.ID, e.dog.ID, r.ID))

	e.bot.handleUpdate(context.Background(), press(chatID, callbackData(verbDone, e.dog.ID, r.ID)))
	require.Len(t, e.api.answers(), 1)
	assert.Contains(t, e.api.answers()[0], "not found")
	assert.Len(t, e.api.requests, 1, "keyboard is kept on failure")
}

func TestAgendaCommand(t *testing.T) {
	e := newEnv(t)
	e.weekly(t)

	e.bot.handleUpdate(context.Background(), command(chatID, "/agenda"))
	require.Len(t, e.api.sent, 1)
	assert.Contains(t, e.api.sent[0].Text, "Rex: Walk")
	assert.Contains(t, e.api.sent[0].Text, "Mon 8 Jan 08:00")
	assert.Equal(t, tgbotapi.ModeHTML, e.api.sent[0].ParseMode)
}

func TestPauseCommands(t *testing.T) {
	e := newEnv(t)
	e.weekly(t)

	e.bot.handleUpdate(context.Background(), command(chatID, "/pause"))
	family, err := e.families.Family(context.Background(), e.user.ID)
	require.NoError(t, err)
	assert.True(t, family.IsPaused)

	e.bot.handleUpdate(context.Background(), command(chatID, "/agenda"))
	require.Len(t, e.api.sent, 2)
	assert.Contains(t, e.api.sent[1].Text, "Nothing scheduled")

	e.clock.Add(time.Hour)
	e.bot.handleUpdate(context.Background(), command(chatID, "/resume"))
	family, err = e.families.Family(context.Background(), e.user.ID)
	require.NoError(t, err)
	assert.False(t, family.IsPaused)
}

func TestStartCommand(t *testing.T) {
	e := newEnv(t)

	e.bot.handleUpdate(context.Background(), command(555, "/start"))
	e.bot.handleUpdate(context.Background(), command(chatID, "/start"))
	e.bot.handleUpdate(context.Background(), command(555, "/agenda"))

	require.Len(t, e.api.sent, 3)
	assert.Contains(t, e.api.sent[0].Text, "<code>555</code>")
	assert.Contains(t, e.api.sent[1].Text, "Hi ann")
	assert.Equal(t, notLinked, e.api.sent[2].Text)
}
