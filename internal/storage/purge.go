package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tazhate/hound/internal/apperr"
)

type PurgeResult struct {
	Reminders int64
	Logs      int64
	Dogs      int64
}

func (r PurgeResult) Total() int64 { return r.Reminders + r.Logs + r.Dogs }

// syncedBefore is true for rows of family f whose last_modified is older than
// every member's last synchronization. Families with a member that never
// synced, or without members, never qualify.
const syncedBefore = `(SELECT CASE WHEN COUNT(*) = 0 OR COUNT(u.last_synchronization) < COUNT(*) THEN NULL
		ELSE MIN(u.last_synchronization) END FROM users u WHERE u.family_id = %s)`

// Purge hard-deletes soft-deleted rows that every family member has already
// synchronized past.
func (s *Storage) Purge(ctx context.Context) (PurgeResult, error) {
	var out PurgeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		steps := []struct {
			query string
			n     *int64
		}{
			{
				`DELETE FROM reminders WHERE is_deleted = 1 AND last_modified < ` + fmtFamily("reminders.family_id"),
				&out.Reminders,
			},
			{
				`DELETE FROM logs WHERE is_deleted = 1 AND last_modified < ` +
					fmtFamily("(SELECT d.family_id FROM dogs d WHERE d.id = logs.dog_id)"),
				&out.Logs,
			},
			{
				`DELETE FROM dogs WHERE is_deleted = 1 AND last_modified < ` + fmtFamily("dogs.family_id") + `
				 AND NOT EXISTS (SELECT 1 FROM reminders r WHERE r.dog_id = dogs.id)
				 AND NOT EXISTS (SELECT 1 FROM logs l WHERE l.dog_id = dogs.id)`,
				&out.Dogs,
			},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query)
			if err != nil {
				return apperr.Database("purge", err)
			}
			*step.n, _ = res.RowsAffected()
		}
		return nil
	})
	return out, err
}

func fmtFamily(expr string) string {
	return "(" + fmt.Sprintf(syncedBefore, expr) + ")"
}
