package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/tazhate/hound/internal/apperr"
	"github.com/tazhate/hound/internal/domain"
)

// === Dogs ===

func (s *Storage) CreateDog(ctx context.Context, d *domain.Dog) error {
	return insertDog(ctx, s.db, d)
}

func insertDog(ctx context.Context, q querier, d *domain.Dog) error {
	if d.LastModified.IsZero() {
		d.LastModified = time.Now()
	}
	d.LastModified = truncate(d.LastModified)
	res, err := q.ExecContext(ctx,
		`INSERT INTO dogs (family_id, name, is_deleted, last_modified) VALUES (?, ?, ?, ?)`,
		d.FamilyID, d.Name, d.IsDeleted, millis(d.LastModified),
	)
	if err != nil {
		return apperr.Database("insert dog", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) GetDog(ctx context.Context, id int64) (*domain.Dog, error) {
	d := &domain.Dog{}
	var lastModified int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, family_id, name, is_deleted, last_modified FROM dogs WHERE id = ?`, id,
	).Scan(&d.ID, &d.FamilyID, &d.Name, &d.IsDeleted, &lastModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("get dog", err)
	}
	d.LastModified = fromMillis(lastModified)
	return d, nil
}

func (s *Storage) ListFamilyDogs(ctx context.Context, familyID int64) ([]*domain.Dog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, family_id, name, is_deleted, last_modified FROM dogs WHERE family_id = ? AND is_deleted = 0 ORDER BY id`,
		familyID,
	)
	if err != nil {
		return nil, apperr.Database("list dogs", err)
	}
	defer rows.Close()

	var dogs []*domain.Dog
	for rows.Next() {
		d := &domain.Dog{}
		var lastModified int64
		if err := rows.Scan(&d.ID, &d.FamilyID, &d.Name, &d.IsDeleted, &lastModified); err != nil {
			return nil, apperr.Database("scan dog", err)
		}
		d.LastModified = fromMillis(lastModified)
		dogs = append(dogs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list dogs", err)
	}
	return dogs, nil
}

// SoftDeleteDog flags the dog and all of its live reminders deleted in one
// transaction and returns the reminders that were deleted.
func (s *Storage) SoftDeleteDog(ctx context.Context, dogID int64, now time.Time) ([]*domain.Reminder, error) {
	var deleted []*domain.Reminder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE dogs SET is_deleted = 1, last_modified = MAX(?, last_modified + 1) WHERE id = ? AND is_deleted = 0`,
			millis(now), dogID,
		)
		if err != nil {
			return apperr.Database("delete dog", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("dog")
		}

		deleted, err = listReminders(ctx, tx, `WHERE dog_id = ? AND is_deleted = 0 ORDER BY id`, dogID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE reminders SET is_deleted = 1, last_modified = MAX(?, last_modified + 1) WHERE dog_id = ? AND is_deleted = 0`,
			millis(now), dogID,
		); err != nil {
			return apperr.Database("delete dog reminders", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
