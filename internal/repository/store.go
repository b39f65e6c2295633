package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every repository
// works unchanged inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store bundles the repositories over one database handle. ExecTx runs
// a function against a transaction-bound Store; invariant-sensitive
// mutations (last-admin checks, capacity checks, invitation accept)
// must do their reads and writes inside one ExecTx call.
type Store interface {
	Users() UserRepository
	Teams() TeamRepository
	Invitations() InvitationRepository
	ExecTx(ctx context.Context, fn func(Store) error) error
}

type sqlStore struct {
	db          *sql.DB
	users       UserRepository
	teams       TeamRepository
	invitations InvitationRepository
}

func NewStore(db *sql.DB) Store {
	return &sqlStore{
		db:          db,
		users:       NewUserRepository(db),
		teams:       NewTeamRepository(db),
		invitations: NewInvitationRepository(db),
	}
}

func (s *sqlStore) Users() UserRepository             { return s.users }
func (s *sqlStore) Teams() TeamRepository             { return s.teams }
func (s *sqlStore) Invitations() InvitationRepository { return s.invitations }

// txAttempts bounds retries on serialization failures. Serializable
// transactions may abort under contention and are safe to rerun.
const txAttempts = 3

func (s *sqlStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return errors.Wrap(err, "begin transaction")
		}

		txStore := &txBoundStore{
			users:       NewUserRepository(tx),
			teams:       NewTeamRepository(tx),
			invitations: NewInvitationRepository(tx),
		}

		if err := fn(txStore); err != nil {
			_ = tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return errors.Wrap(err, "commit transaction")
		}
		return nil
	}
	return errors.Wrap(lastErr, "transaction retries exhausted")
}

// txBoundStore is a Store view scoped to one open transaction. Nested
// ExecTx calls reuse the same transaction.
type txBoundStore struct {
	users       UserRepository
	teams       TeamRepository
	invitations InvitationRepository
}

func (s *txBoundStore) Users() UserRepository             { return s.users }
func (s *txBoundStore) Teams() TeamRepository             { return s.teams }
func (s *txBoundStore) Invitations() InvitationRepository { return s.invitations }

func (s *txBoundStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

// Postgres error class helpers. Cross-writer invariants are backed by
// unique constraints; the repositories translate violations into the
// matching domain error instead of a generic fault.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqUniqueViolation && pqErr.Constraint == constraint
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqSerializationFailure
}
