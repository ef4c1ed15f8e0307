package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
)

// === Families ===

func (s *Storage) CreateFamily(ctx context.Context, f *domain.Family) error {
	return insertFamily(ctx, s.db, f)
}

// CreateFamilyWithMembers inserts a family together with its users and dogs
// in one transaction. Users and dogs get the new family's ID.
func (s *Storage) CreateFamilyWithMembers(ctx context.Context, f *domain.Family, users []*domain.User, dogs []*domain.Dog) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertFamily(ctx, tx, f); err != nil {
			return err
		}
		for _, u := range users {
			u.FamilyID = f.ID
			if err := insertUser(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, d := range dogs {
			d.FamilyID = f.ID
			if err := insertDog(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertFamily(ctx context.Context, q querier, f *domain.Family) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	f.CreatedAt = truncate(f.CreatedAt)
	res, err := q.ExecContext(ctx,
		`INSERT INTO families (name, is_paused, last_pause, last_unpause, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.Name, f.IsPaused, nullMillis(f.LastPause), nullMillis(f.LastUnpause), millis(f.CreatedAt),
	)
	if err != nil {
		return apperr.Database("insert family", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) GetFamily(ctx context.Context, id int64) (*domain.Family, error) {
	return getFamily(ctx, s.db, id)
}

func getFamily(ctx context.Context, q querier, id int64) (*domain.Family, error) {
	f := &domain.Family{}
	var lastPause, lastUnpause sql.NullInt64
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT id, name, is_paused, last_pause, last_unpause, created_at FROM families WHERE id = ?`,
		id,
	).Scan(&f.ID, &f.Name, &f.IsPaused, &lastPause, &lastUnpause, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("get family", err)
	}
	f.LastPause = fromNullMillis(lastPause)
	f.LastUnpause = fromNullMillis(lastUnpause)
	f.CreatedAt = fromMillis(createdAt)
	return f, nil
}

// PauseFamily marks the family paused at now. changed is false when it
// already was.
func (s *Storage) PauseFamily(ctx context.Context, familyID int64, now time.Time) (f *domain.Family, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		f, err = getFamily(ctx, tx, familyID)
		if err != nil {
			return err
		}
		if f == nil {
			return apperr.NotFound("family")
		}
		if f.IsPaused {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE families SET is_paused = 1, last_pause = ? WHERE id = ?`, millis(now), familyID,
		); err != nil {
			return apperr.Database("pause family", err)
		}
		changed = true
		f, err = getFamily(ctx, tx, familyID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return f, changed, nil
}

// Normalizer rewrites one schedulable reminder when its family unpauses.
type Normalizer func(r *domain.Reminder, lastPause, unpause time.Time) *domain.Reminder

// UnpauseFamily clears the pause and, in the same transaction, rewrites every
// schedulable reminder of the family through normalize. It returns the
// family and the reminders as stored afterwards.
func (s *Storage) UnpauseFamily(ctx context.Context, familyID int64, now time.Time, normalize Normalizer) (f *domain.Family, reminders []*domain.Reminder, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		f, err = getFamily(ctx, tx, familyID)
		if err != nil {
			return err
		}
		if f == nil {
			return apperr.NotFound("family")
		}
		if !f.IsPaused {
			return nil
		}
		lastPause := now
		if f.LastPause != nil {
			lastPause = *f.LastPause
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE families SET is_paused = 0, last_unpause = ? WHERE id = ?`, millis(now), familyID,
		); err != nil {
			return apperr.Database("unpause family", err)
		}

		current, err := listReminders(ctx, tx,
			`WHERE family_id = ? AND is_enabled = 1 AND is_deleted = 0 ORDER BY id`, familyID)
		if err != nil {
			return err
		}
		for _, r := range current {
			next := normalize(r, lastPause, now)
			if err := updateReminder(ctx, tx, next, r.LastModified, now); err != nil {
				return err
			}
			reminders = append(reminders, next)
		}
		changed = true
		f, err = getFamily(ctx, tx, familyID)
		return err
	})
	if err != nil {
		return nil, nil, false, err
	}
	return f, reminders, changed, nil
}

// === Users ===

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	return insertUser(ctx, s.db, u)
}

func insertUser(ctx context.Context, q querier, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = truncate(u.CreatedAt)
	res, err := q.ExecContext(ctx,
		`INSERT INTO users (family_id, name, notification_token, notifications_enabled, last_synchronization, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.FamilyID, u.Name, u.NotificationToken, u.NotificationsEnabled, nullMillis(u.LastSynchronization), millis(u.CreatedAt),
	)
	if err != nil {
		return apperr.Database("insert user", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

const userColumns = `id, family_id, name, notification_token, notifications_enabled, last_synchronization, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	var lastSync sql.NullInt64
	var createdAt int64
	if err := row.Scan(&u.ID, &u.FamilyID, &u.Name, &u.NotificationToken, &u.NotificationsEnabled, &lastSync, &createdAt); err != nil {
		return nil, err
	}
	u.LastSynchronization = fromNullMillis(lastSync)
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func (s *Storage) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("get user", err)
	}
	return u, nil
}

// GetUserByNotificationToken resolves the user a push destination belongs
// to. Tokens are not unique across families; the oldest user wins.
func (s *Storage) GetUserByNotificationToken(ctx context.Context, token string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE notification_token = ? AND notification_token != '' ORDER BY id LIMIT 1`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("get user by token", err)
	}
	return u, nil
}

func (s *Storage) ListFamilyUsers(ctx context.Context, familyID int64) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE family_id = ? ORDER BY id`, familyID)
	if err != nil {
		return nil, apperr.Database("list users", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Database("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list users", err)
	}
	return users, nil
}

// UpdateUserSynchronization stamps the instant the user last pulled changes.
func (s *Storage) UpdateUserSynchronization(ctx context.Context, userID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_synchronization = ? WHERE id = ?`, millis(at), userID,
	); err != nil {
		return apperr.Database("update user synchronization", err)
	}
	return nil
}

func (s *Storage) UpdateUserNotifications(ctx context.Context, userID int64, token string, enabled bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET notification_token = ?, notifications_enabled = ? WHERE id = ?`, token, enabled, userID,
	); err != nil {
		return apperr.Database("update user notifications", err)
	}
	return nil
}
