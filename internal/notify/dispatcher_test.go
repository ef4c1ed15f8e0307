package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]error
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.Token]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeDirectory struct {
	dog   *domain.Dog
	users []*domain.User
}

func (f *fakeDirectory) GetDog(context.Context, int64) (*domain.Dog, error) { return f.dog, nil }

func (f *fakeDirectory) ListFamilyUsers(context.Context, int64) ([]*domain.User, error) {
	return f.users, nil
}

func testOccurrence() domain.Occurrence {
	return domain.Occurrence{
		ID: "occ-1",
		Reminder: &domain.Reminder{
			ID: 7, DogID: 3, FamilyID: 1, Action: domain.ActionWalk,
			Schedule: &domain.Countdown{ExecutionInterval: time.Hour},
		},
		At: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		dog: &domain.Dog{ID: 3, Name: "Rex"},
		users: []*domain.User{
			{ID: 10, NotificationToken: "a", NotificationsEnabled: true},
			{ID: 11, NotificationToken: "b", NotificationsEnabled: true},
			{ID: 12, NotificationToken: "c", NotificationsEnabled: false},
		},
	}
}

func TestDispatchFamily(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, testDirectory(), time.Second)

	res, err := d.Dispatch(context.Background(), testOccurrence())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 2, Skipped: 1}, res)

	require.Len(t, tr.sent, 2)
	msg := tr.sent[0]
	assert.Equal(t, "a", msg.Token)
	assert.Equal(t, "Rex: Walk", msg.Title)
	assert.Equal(t, "7", msg.Data["reminderId"])
	assert.Equal(t, "10", msg.Data["userId"])
	assert.Equal(t, "2024-01-01T08:00:00Z", msg.Data["dueAt"])
	assert.Equal(t, "false", msg.Data["followUp"])
}

func TestDispatchSingleUserFollowUp(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, testDirectory(), time.Second)

	occ := testOccurrence()
	occ.UserID = 11
	occ.FollowUp = true
	res, err := d.Dispatch(context.Background(), occ)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "b", tr.sent[0].Token)
	assert.Equal(t, "Reminder: Rex: Walk", tr.sent[0].Title)
}

func TestDispatchFailureIsReported(t *testing.T) {
	tr := &fakeTransport{fail: map[string]error{"a": errors.New("invalid token")}}
	d := NewDispatcher(tr, testDirectory(), time.Second)

	res, err := d.Dispatch(context.Background(), testOccurrence())
	assert.Equal(t, Result{Sent: 1, Failed: 1, Skipped: 1}, res)
	require.Error(t, err)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindDispatch, e.Kind)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestGoYieldsOneOutcome(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, testDirectory(), time.Second)

	outcome, ok := <-d.Go(context.Background(), testOccurrence())
	require.True(t, ok)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Result.Sent)
	assert.Equal(t, "occ-1", outcome.Occurrence.ID)
}

func TestGoWithoutReminder(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, testDirectory(), time.Second)

	outcome, ok := <-d.Go(context.Background(), domain.Occurrence{ID: "occ-2"})
	require.True(t, ok)
	e, isApp := apperr.As(outcome.Err)
	require.True(t, isApp)
	assert.Equal(t, apperr.KindDispatch, e.Kind)
	assert.Zero(t, outcome.Result.Sent)
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramTransport(t *testing.T) {
	bot := &fakeBot{}
	tr := &TelegramTransport{api: bot}

	err := tr.Send(context.Background(), Message{Token: "12345", Title: "Rex <3", Body: "Walk"})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(12345), bot.sent[0].ChatID)
	assert.Equal(t, "<b>Rex &lt;3</b>\nWalk", bot.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeHTML, bot.sent[0].ParseMode)

	assert.Error(t, tr.Send(context.Background(), Message{Token: "not-a-chat"}))

	bot.err = errors.New("forbidden")
	assert.ErrorContains(t, tr.Send(context.Background(), Message{Token: "1"}), "forbidden")
}

func TestLogTransportHonoursContext(t *testing.T) {
	tr := NewLogTransport()
	assert.NoError(t, tr.Send(context.Background(), Message{Token: "x", Title: "t"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, Message{}), context.Canceled)
}

func TestTelegramTransportKeyboard(t *testing.T) {
	bot := &fakeBot{}
	tr := NewTelegramTransport(bot).WithKeyboard(func(msg Message) *tgbotapi.InlineKeyboardMarkup {
		if msg.Data["reminderId"] == "" {
			return nil
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Done", "done:"+msg.Data["reminderId"]),
		))
		return &kb
	})

	require.NoError(t, tr.Send(context.Background(), Message{Token: "1", Title: "Rex", Data: map[string]string{"reminderId": "7"}}))
	require.NoError(t, tr.Send(context.Background(), Message{Token: "1", Title: "Rex"}))
	require.Len(t, bot.sent, 2)

	kb, ok := bot.sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "done:7", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Nil(t, bot.sent[1].ReplyMarkup)
}
