package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
)

// === Logs ===

func (s *Storage) CreateLog(ctx context.Context, l *domain.Log, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertLog(ctx, tx, l, now)
	})
}

func insertLog(ctx context.Context, tx *sql.Tx, l *domain.Log, now time.Time) error {
	if l.Date.IsZero() {
		l.Date = now
	}
	l.Date = truncate(l.Date)
	l.LastModified = truncate(now)

	var reminderID sql.NullInt64
	if l.ReminderID != nil {
		reminderID = sql.NullInt64{Int64: *l.ReminderID, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO logs (dog_id, user_id, reminder_id, action, custom_action_name, date, note, is_deleted, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		l.DogID, l.UserID, reminderID, string(l.Action), l.CustomActionName, millis(l.Date), l.Note, millis(l.LastModified),
	)
	if err != nil {
		return apperr.Database("insert log", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) ListDogLogs(ctx context.Context, dogID int64) ([]*domain.Log, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dog_id, user_id, reminder_id, action, custom_action_name, date, note, is_deleted, last_modified
		 FROM logs WHERE dog_id = ? AND is_deleted = 0 ORDER BY date DESC, id DESC`,
		dogID,
	)
	if err != nil {
		return nil, apperr.Database("list logs", err)
	}
	defer rows.Close()

	var logs []*domain.Log
	for rows.Next() {
		l := &domain.Log{}
		var reminderID sql.NullInt64
		var action string
		var date, lastModified int64
		if err := rows.Scan(&l.ID, &l.DogID, &l.UserID, &reminderID, &action, &l.CustomActionName, &date, &l.Note, &l.IsDeleted, &lastModified); err != nil {
			return nil, apperr.Database("scan log", err)
		}
		if reminderID.Valid {
			id := reminderID.Int64
			l.ReminderID = &id
		}
		l.Action = domain.ReminderAction(action)
		l.Date = fromMillis(date)
		l.LastModified = fromMillis(lastModified)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list logs", err)
	}
	return logs, nil
}

func (s *Storage) SoftDeleteLog(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE logs SET is_deleted = 1, last_modified = MAX(?, last_modified + 1) WHERE id = ? AND is_deleted = 0`,
		millis(now), id,
	)
	if err != nil {
		return false, apperr.Database("delete log", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
