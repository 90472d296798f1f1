package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WithTx wraps a function in a database transaction, handling begin,
// commit, rollback, and panic recovery. The Workspace Controller opens one
// per workspace per tick and the TTL loop one per activity flush, each on a
// pooled connection; the Observer's writes and the GC loop's reads run
// outside any transaction. The advisory lock each loop
// holds lives on a separate, dedicated connection entirely (see the leader
// package) so it never blocks or is blocked by this pool.
//
// Usage:
//
//	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
//	    return repo.CommitControl(ctx, tx, w, decision)
//	})
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if v := recover(); v != nil {
			//nolint:errcheck // rollback on panic is best-effort
			tx.Rollback()
			panic(v)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
