package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	TxRunner
	Validate() error
	MustValidate()
	DB() *bun.DB
	Principals() Principals
	Dependents() Dependents
}

type mngr struct {
	db         *bun.DB
	principals Principals
	dependents Dependents
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:         db,
		principals: NewPrincipalsRepository(db),
		dependents: NewDependentsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.principals == nil {
		return errors.New("repository principals should be initialized")
	}

	if m.dependents == nil {
		return errors.New("repository dependents should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Principals() Principals {
	return m.principals
}

func (m mngr) Dependents() Dependents {
	return m.dependents
}
