package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
)

// Beginner is any type that can begin a transaction.
type Beginner interface {
	BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
}

// WithTx will attempt to initiate a transaction with the given Beginner and use it to call the do function.
// If an error is returned from the do function, then the transaction will be rolled back.
// If no error is returned from the do function, then the transaction will be committed.
// The first error returned in the process will be propagated to the caller.
func WithTx(ctx context.Context, b Beginner, opts *sql.TxOptions, do func(tx *sql.Tx) error) error {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := do(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

type txKey struct{}

type txState struct {
	tx    *sql.Tx
	owner *eventbus.Dispatch
}

// TxFrom returns the transaction started by a [TxProcessor] for the current dispatch.
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return nil, false
	}
	return state.tx, true
}

// TxProcessor is an [eventbus.EventProcessor] that runs each dispatch in a transaction.
// The transaction is available to the listener with [TxFrom], and is committed if the listener and its spreading succeed, or rolled back otherwise.
//
// Events spread synchronously from a listener inherit its context, so a nested dispatch using a TxProcessor joins the outer transaction instead of starting a new one.
// Only the dispatch that started the transaction commits or rolls it back.
// Asynchronous dispatches may outlive the outer transaction, so they always begin their own.
type TxProcessor struct {
	db   Beginner
	opts *sql.TxOptions
}

func NewTxProcessor(db Beginner, opts *sql.TxOptions) *TxProcessor {
	if db == nil {
		panic("nil transaction beginner")
	}
	return &TxProcessor{db: db, opts: opts}
}

func (p *TxProcessor) Before(ctx context.Context, d *eventbus.Dispatch) (context.Context, error) {
	if _, ok := TxFrom(ctx); ok && !d.Async {
		return ctx, nil
	}
	tx, err := p.db.BeginTx(ctx, p.opts)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey{}, &txState{tx: tx, owner: d}), nil
}

func (p *TxProcessor) After(ctx context.Context, d *eventbus.Dispatch) error {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok || state.owner != d {
		return nil
	}
	if d.Err != nil {
		if err := state.tx.Rollback(); err != nil {
			return fmt.Errorf("failed to roll back transaction: %w", err)
		}
		return nil
	}
	if err := state.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
