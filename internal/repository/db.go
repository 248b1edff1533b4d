package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// conn returns the transaction bound to ctx, or the pool
func conn(ctx context.Context, db *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// TxManager runs functions inside PostgreSQL transactions carried by the context
type TxManager struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTxManager creates a new TxManager
func NewTxManager(db *pgxpool.Pool, logger *zap.Logger) *TxManager {
	return &TxManager{
		db:     db,
		logger: logger,
	}
}

// WithinTx runs fn in a transaction. When ctx already carries a transaction
// fn runs in a savepoint, so a failure rolls back only fn's writes.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if outer, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = m.db.Begin(ctx)
	}
	if err != nil {
		m.logger.Error("failed to begin transaction", zap.Error(err))
		return &model.StorageError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		m.logger.Error("failed to commit transaction", zap.Error(err))
		return storageError("commit transaction", err)
	}
	return nil
}

// storageError maps driver errors onto the model taxonomy
func storageError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to %s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("failed to %s: %s: %w", op, pgErr.ConstraintName, model.ErrConflict)
	}
	return &model.StorageError{Op: op, Err: err}
}
