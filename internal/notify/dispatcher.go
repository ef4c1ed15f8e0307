// Package notify renders due reminder occurrences and hands them to a push
// transport. Delivery is best effort: failures are reported to the caller
// but nothing here retries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/metrics"
)

// Message is one push addressed to a device token.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Transport delivers a single message. A nil error means the destination
// accepted it.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Directory resolves the dog and the family members of an occurrence.
type Directory interface {
	GetDog(ctx context.Context, id int64) (*domain.Dog, error)
	ListFamilyUsers(ctx context.Context, familyID int64) ([]*domain.User, error)
}

// Result counts destinations per outcome.
type Result struct {
	Sent    int
	Failed  int
	Skipped int
}

// Outcome is the awaited result of an asynchronous dispatch.
type Outcome struct {
	Occurrence domain.Occurrence
	Result     Result
	Err        error
}

type Dispatcher struct {
	transport Transport
	dir       Directory
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewDispatcher(transport Transport, dir Directory, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		transport: transport,
		dir:       dir,
		timeout:   timeout,
		logger:    log.WithComponent("notify"),
	}
}

// Dispatch sends occ to every notifiable recipient. The returned error is an
// apperr dispatch error joining the per-destination failures.
func (d *Dispatcher) Dispatch(ctx context.Context, occ domain.Occurrence) (Result, error) {
	var res Result
	r := occ.Reminder
	if r == nil {
		return res, apperr.Dispatch(errors.New("occurrence without reminder"))
	}

	dogName := ""
	if dog, err := d.dir.GetDog(ctx, r.DogID); err != nil {
		return res, apperr.Dispatch(fmt.Errorf("load dog: %w", err))
	} else if dog != nil {
		dogName = dog.Name
	}

	users, err := d.dir.ListFamilyUsers(ctx, r.FamilyID)
	if err != nil {
		return res, apperr.Dispatch(fmt.Errorf("load recipients: %w", err))
	}

	var errs []error
	for _, u := range users {
		if occ.UserID != 0 && u.ID != occ.UserID {
			continue
		}
		if !u.Notifiable() {
			res.Skipped++
			metrics.Notifications.WithLabelValues("skipped").Inc()
			continue
		}
		msg := render(occ, dogName, u)
		if err := d.transport.Send(ctx, msg); err != nil {
			res.Failed++
			metrics.Notifications.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("user %d: %w", u.ID, err))
			continue
		}
		res.Sent++
		metrics.Notifications.WithLabelValues("sent").Inc()
	}

	if len(errs) > 0 {
		return res, apperr.Dispatch(errors.Join(errs...))
	}
	return res, nil
}

// Go dispatches occ on its own goroutine, bounded by the dispatch timeout.
// The channel yields exactly one outcome and is then closed.
func (d *Dispatcher) Go(ctx context.Context, occ domain.Occurrence) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		res, err := d.Dispatch(ctx, occ)
		if err != nil {
			event := d.logger.Warn().Err(err).Str("occurrence_id", occ.ID)
			if occ.Reminder != nil {
				event = event.Int64("reminder_id", occ.Reminder.ID)
			}
			event.Msg("notification delivery failed")
		}
		out <- Outcome{Occurrence: occ, Result: res, Err: err}
	}()
	return out
}

func render(occ domain.Occurrence, dogName string, u *domain.User) Message {
	r := occ.Reminder
	action := r.DisplayAction()

	title := action
	if dogName != "" {
		title = fmt.Sprintf("%s: %s", dogName, action)
	}
	body := fmt.Sprintf("It's time for %s's %s.", orDefault(dogName, "your dog"), action)
	if occ.FollowUp {
		title = "Reminder: " + title
		body = fmt.Sprintf("Nobody has taken care of %s yet.", action)
	}

	return Message{
		Token: u.NotificationToken,
		Title: title,
		Body:  body,
		Data: map[string]string{
			"occurrenceId": occ.ID,
			"reminderId":   strconv.FormatInt(r.ID, 10),
			"dogId":        strconv.FormatInt(r.DogID, 10),
			"familyId":     strconv.FormatInt(r.FamilyID, 10),
			"userId":       strconv.FormatInt(u.ID, 10),
			"action":       string(r.Action),
			"type":         string(r.Type()),
			"dueAt":        occ.At.UTC().Format(time.RFC3339),
			"followUp":     strconv.FormatBool(occ.FollowUp),
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
