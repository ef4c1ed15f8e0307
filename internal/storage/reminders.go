package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
)

// === Reminders ===
//
// Every type block has its own columns. Only the block of the reminder's
// type is written; the others keep their defaults and are ignored on read.

const reminderColumns = `id, dog_id, family_id, action, custom_action_name, type, execution_basis,
	is_enabled, is_deleted, last_modified,
	one_time_date, countdown_execution_interval, countdown_interval_elapsed,
	weekly_hour, weekly_minute, weekly_weekdays, weekly_is_skipping, weekly_is_skipping_date,
	monthly_day, monthly_hour, monthly_minute, monthly_is_skipping, monthly_is_skipping_date,
	snooze_is_enabled, snooze_execution_interval, snooze_interval_elapsed`

// configColumns are written on insert and update, in this order.
var configColumns = []string{
	"action", "custom_action_name", "type", "execution_basis", "is_enabled",
	"one_time_date", "countdown_execution_interval", "countdown_interval_elapsed",
	"weekly_hour", "weekly_minute", "weekly_weekdays", "weekly_is_skipping", "weekly_is_skipping_date",
	"monthly_day", "monthly_hour", "monthly_minute", "monthly_is_skipping", "monthly_is_skipping_date",
	"snooze_is_enabled", "snooze_execution_interval", "snooze_interval_elapsed",
}

type reminderRow struct {
	id, dogID, familyID      int64
	action, customAction     string
	typ                      string
	basis                    int64
	isEnabled, isDeleted     bool
	lastModified             int64
	oneTimeDate              int64
	cdInterval, cdElapsed    int64
	wHour, wMinute, wDays    int
	wSkipping                bool
	wSkipDate                int64
	mDay, mHour, mMinute     int
	mSkipping                bool
	mSkipDate                int64
	snoozeEnabled            bool
	snoozeInterval, snoozeEl int64
}

func scanReminder(row interface{ Scan(...any) error }) (*domain.Reminder, error) {
	var r reminderRow
	err := row.Scan(&r.id, &r.dogID, &r.familyID, &r.action, &r.customAction, &r.typ, &r.basis,
		&r.isEnabled, &r.isDeleted, &r.lastModified,
		&r.oneTimeDate, &r.cdInterval, &r.cdElapsed,
		&r.wHour, &r.wMinute, &r.wDays, &r.wSkipping, &r.wSkipDate,
		&r.mDay, &r.mHour, &r.mMinute, &r.mSkipping, &r.mSkipDate,
		&r.snoozeEnabled, &r.snoozeInterval, &r.snoozeEl)
	if err != nil {
		return nil, err
	}
	return r.toDomain()
}

func (r reminderRow) toDomain() (*domain.Reminder, error) {
	out := &domain.Reminder{
		ID:               r.id,
		DogID:            r.dogID,
		FamilyID:         r.familyID,
		Action:           domain.ReminderAction(r.action),
		CustomActionName: r.customAction,
		ExecutionBasis:   fromMillis(r.basis),
		IsEnabled:        r.isEnabled,
		IsDeleted:        r.isDeleted,
		LastModified:     fromMillis(r.lastModified),
		Snooze: domain.Snooze{
			IsEnabled:         r.snoozeEnabled,
			ExecutionInterval: time.Duration(r.snoozeInterval) * time.Millisecond,
			IntervalElapsed:   time.Duration(r.snoozeEl) * time.Millisecond,
		},
	}
	switch domain.ReminderType(r.typ) {
	case domain.ReminderOneTime:
		out.Schedule = &domain.OneTime{Date: fromMillis(r.oneTimeDate)}
	case domain.ReminderCountdown:
		out.Schedule = &domain.Countdown{
			ExecutionInterval: time.Duration(r.cdInterval) * time.Millisecond,
			IntervalElapsed:   time.Duration(r.cdElapsed) * time.Millisecond,
		}
	case domain.ReminderWeekly:
		out.Schedule = &domain.Weekly{
			Hour:     r.wHour,
			Minute:   r.wMinute,
			Weekdays: domain.WeekdaySet(r.wDays),
			Skip:     domain.Skip{IsSkipping: r.wSkipping, Date: fromMillis(r.wSkipDate)},
		}
	case domain.ReminderMonthly:
		out.Schedule = &domain.Monthly{
			Day:    r.mDay,
			Hour:   r.mHour,
			Minute: r.mMinute,
			Skip:   domain.Skip{IsSkipping: r.mSkipping, Date: fromMillis(r.mSkipDate)},
		}
	default:
		return nil, fmt.Errorf("reminder %d has unknown type %q", r.id, r.typ)
	}
	return out, nil
}

// configArgs returns the values of configColumns for r.
func configArgs(r *domain.Reminder) []any {
	row := reminderRow{mDay: 1}
	switch s := r.Schedule.(type) {
	case *domain.OneTime:
		row.oneTimeDate = millis(s.Date)
	case *domain.Countdown:
		row.cdInterval = s.ExecutionInterval.Milliseconds()
		row.cdElapsed = s.IntervalElapsed.Milliseconds()
	case *domain.Weekly:
		row.wHour, row.wMinute, row.wDays = s.Hour, s.Minute, int(s.Weekdays)
		row.wSkipping, row.wSkipDate = s.Skip.IsSkipping, skipMillis(s.Skip)
	case *domain.Monthly:
		row.mDay, row.mHour, row.mMinute = s.Day, s.Hour, s.Minute
		row.mSkipping, row.mSkipDate = s.Skip.IsSkipping, skipMillis(s.Skip)
	}
	snooze := r.Snooze
	if !snooze.IsEnabled {
		snooze = domain.Snooze{}
	}
	return []any{
		string(r.Action), r.CustomActionName, string(r.Type()), millis(r.ExecutionBasis), r.IsEnabled,
		row.oneTimeDate, row.cdInterval, row.cdElapsed,
		row.wHour, row.wMinute, row.wDays, row.wSkipping, row.wSkipDate,
		row.mDay, row.mHour, row.mMinute, row.mSkipping, row.mSkipDate,
		snooze.IsEnabled, snooze.ExecutionInterval.Milliseconds(), snooze.IntervalElapsed.Milliseconds(),
	}
}

// skipMillis keeps the skip pair consistent: no date without the flag.
func skipMillis(s domain.Skip) int64 {
	if !s.IsSkipping {
		return 0
	}
	return millis(s.Date)
}

// CreateReminder inserts r and sets its ID and LastModified.
func (s *Storage) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	if r.LastModified.IsZero() {
		r.LastModified = time.Now()
	}
	r.LastModified = truncate(r.LastModified)
	r.ExecutionBasis = truncate(r.ExecutionBasis)

	cols := append([]string{"dog_id", "family_id", "last_modified"}, configColumns...)
	args := append([]any{r.DogID, r.FamilyID, millis(r.LastModified)}, configArgs(r)...)
	query := fmt.Sprintf(`INSERT INTO reminders (%s) VALUES (?%s)`,
		strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Database("insert reminder", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) GetReminder(ctx context.Context, id int64) (*domain.Reminder, error) {
	return getReminder(ctx, s.db, id)
}

func getReminder(ctx context.Context, q querier, id int64) (*domain.Reminder, error) {
	r, err := scanReminder(q.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("get reminder", err)
	}
	return r, nil
}

func listReminders(ctx context.Context, q querier, where string, args ...any) ([]*domain.Reminder, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders `+where, args...)
	if err != nil {
		return nil, apperr.Database("list reminders", err)
	}
	defer rows.Close()

	var reminders []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, apperr.Database("scan reminder", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list reminders", err)
	}
	return reminders, nil
}

// ListSchedulableReminders returns every enabled, non-deleted reminder across
// all families.
func (s *Storage) ListSchedulableReminders(ctx context.Context) ([]*domain.Reminder, error) {
	return listReminders(ctx, s.db, `WHERE is_enabled = 1 AND is_deleted = 0 ORDER BY family_id, id`)
}

// ListFamilyReminders returns the reminders of a family modified after since,
// soft-deleted rows included. A zero since returns all of them.
func (s *Storage) ListFamilyReminders(ctx context.Context, familyID int64, since time.Time) ([]*domain.Reminder, error) {
	return listReminders(ctx, s.db,
		`WHERE family_id = ? AND last_modified > ? ORDER BY id`, familyID, millis(since))
}

// UpdateReminder overwrites the configuration of r without a staleness
// guard: the last API write wins. r.LastModified is set to the stored value.
func (s *Storage) UpdateReminder(ctx context.Context, r *domain.Reminder, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateReminder(ctx, tx, r, time.Time{}, now)
	})
}

// updateReminder writes r. When expected is non-zero the write only applies
// if the row still carries that last_modified, otherwise ErrStale. The new
// last_modified is strictly greater than the old one even within the same
// millisecond.
func updateReminder(ctx context.Context, tx *sql.Tx, r *domain.Reminder, expected, now time.Time) error {
	sets := make([]string, 0, len(configColumns)+1)
	for _, c := range configColumns {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "last_modified = MAX(?, last_modified + 1)")

	args := append(configArgs(r), millis(now), r.ID)
	query := `UPDATE reminders SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND is_deleted = 0`
	if !expected.IsZero() {
		query += ` AND last_modified = ?`
		args = append(args, millis(expected))
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Database("update reminder", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if expected.IsZero() {
			return apperr.NotFound("reminder")
		}
		return ErrStale
	}

	var lm int64
	if err := tx.QueryRowContext(ctx, `SELECT last_modified FROM reminders WHERE id = ?`, r.ID).Scan(&lm); err != nil {
		return apperr.Database("read last_modified", err)
	}
	r.LastModified = fromMillis(lm)
	r.ExecutionBasis = truncate(r.ExecutionBasis)
	return nil
}

// ApplyOccurrence persists the state of a reminder after one of its
// occurrences fired, was completed or was skipped. prev is the state the
// caller computed next from; the write is rejected with ErrStale if the row
// changed since. A non-nil log is inserted in the same transaction.
func (s *Storage) ApplyOccurrence(ctx context.Context, prev, next *domain.Reminder, log *domain.Log, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateReminder(ctx, tx, next, prev.LastModified, now); err != nil {
			return err
		}
		if log != nil {
			log.ReminderID = &next.ID
			if err := insertLog(ctx, tx, log, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SoftDeleteReminder flags the reminder deleted. It reports false when there
// was nothing to delete.
func (s *Storage) SoftDeleteReminder(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_deleted = 1, last_modified = MAX(?, last_modified + 1) WHERE id = ? AND is_deleted = 0`,
		millis(now), id,
	)
	if err != nil {
		return false, apperr.Database("delete reminder", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsStale reports whether err came from a guarded write losing a race.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}
