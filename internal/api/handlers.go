package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/calendar"
	"github.com/tazhate/hound/internal/domain"
	"github.com/tazhate/hound/internal/service"
)

var errNoRoute = apperr.NotFound("route")

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, apperr.Missing(name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}

// ids resolves the named path parameters in order.
func ids(r *http.Request, names ...string) ([]int64, error) {
	out := make([]int64, len(names))
	for i, name := range names {
		id, err := pathID(r, name)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// withNextDue renders r with its computed next due instant.
func (s *Server) withNextDue(r *http.Request, rem *domain.Reminder) (ReminderBody, error) {
	res, err := s.reminders.NextDue(r.Context(), rem)
	if err != nil {
		return ReminderBody{}, err
	}
	return reminderBody(rem, &res), nil
}

// POST /user/{userId}/dogs/{dogId}/reminders
func (s *Server) createReminder(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body ReminderBody
	if err := decode(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	rem, err := body.toDomain()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	created, err := s.reminders.Create(r.Context(), p[0], p[1], rem)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out, err := s.withNextDue(r, created)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, out)
}

// GET /user/{userId}/dogs/{dogId}/reminders/{reminderId}
func (s *Server) getReminder(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId", "reminderId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rem, res, err := s.reminders.Get(r.Context(), p[0], p[1], p[2])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, reminderBody(rem, &res))
}

// PUT /user/{userId}/dogs/{dogId}/reminders/{reminderId}
func (s *Server) updateReminder(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId", "reminderId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body ReminderBody
	if err := decode(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	rem, err := body.toDomain()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	updated, err := s.reminders.Update(r.Context(), p[0], p[1], p[2], rem)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out, err := s.withNextDue(r, updated)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, out)
}

// DELETE /user/{userId}/dogs/{dogId}/reminders/{reminderId}
func (s *Server) deleteReminder(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId", "reminderId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.reminders.Delete(r.Context(), p[0], p[1], p[2]); err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "")
}

// POST /user/{userId}/dogs/{dogId}/reminders/{reminderId}/complete
func (s *Server) completeReminder(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId", "reminderId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body completeBody
	if err := decode(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	next, err := s.reminders.Complete(r.Context(), p[0], p[1], p[2], service.CompletionAction(body.Action), body.Note)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out, err := s.withNextDue(r, next)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, out)
}

// GET /user/{userId}/reminders?since=RFC3339
func (s *Server) syncReminders(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			s.respondError(w, r, apperr.Invalid("since must be an RFC 3339 timestamp"))
			return
		}
	}

	reminders, err := s.reminders.Sync(r.Context(), userID, since)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]ReminderBody, 0, len(reminders))
	for _, rem := range reminders {
		if rem.IsDeleted {
			out = append(out, reminderBody(rem, nil))
			continue
		}
		body, err := s.withNextDue(r, rem)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		out = append(out, body)
	}
	respond(w, http.StatusOK, out)
}

// GET /user/{userId}/reminders.ics
func (s *Server) calendarFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	family, err := s.families.Family(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	reminders, dogs, err := s.reminders.Agenda(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	cal := s.feed.Feed(reminders, dogs, family.PauseState(), s.clock.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="reminders.ics"`)
	if err := calendar.Encode(w, cal); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to encode calendar feed")
	}
}

// PUT /user/{userId}/family/pause
func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body pauseBody
	if err := decode(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if body.IsPaused == nil {
		s.respondError(w, r, apperr.Missing("isPaused"))
		return
	}

	family, err := s.families.SetPaused(r.Context(), userID, *body.IsPaused)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, familyResponse(family))
}

// DELETE /user/{userId}/dogs/{dogId}
func (s *Server) deleteDog(w http.ResponseWriter, r *http.Request) {
	p, err := ids(r, "userId", "dogId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.families.DeleteDog(r.Context(), p[0], p[1]); err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "")
}

// PUT /user/{userId}/notifications
func (s *Server) updateNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body notificationsBody
	if err := decode(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	user, err := s.families.UpdateNotifications(r.Context(), userID, body.NotificationToken, body.NotificationsEnabled)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, userResponse(user))
}
