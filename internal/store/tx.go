package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a per-command transactional scope: the command executor opens
// one per command, passes it to the command via the execution context,
// and commits it on a clean return or rolls it back on error. SQLite's
// default isolation under WAL satisfies the read-committed minimum the
// regulation engine relies on.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a new transactional scope.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the scope. Called by the executor on successful command
// execution.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the scope. Called by the executor when a command
// fails; safe to call after a successful Commit (returns sql.ErrTxDone,
// which callers ignore).
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// WithTx runs fn inside a fresh transactional scope opened on s, committing
// on a nil return and rolling back otherwise. It is the narrow path the
// radio worker uses to touch the store directly, outside of the command
// executor.
func WithTx(ctx context.Context, s *Store, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
