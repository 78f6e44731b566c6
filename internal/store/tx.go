package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Transact runs fn inside a single transaction, committing on success and
// rolling back otherwise; a failed rollback is reported inside the returned
// error. Every mutating
// repository operation goes through this, per spec.md §4.9: "every
// mutating operation is a single transaction."
func Transact(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
