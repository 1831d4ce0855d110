package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"github.com/saylorsolutions/eventx/patterns/retry"
	"github.com/saylorsolutions/eventx/sqlx"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const maxPayment = 50_000

type orderPlaced struct {
	ID     int
	Amount int
}

type paymentCaptured struct {
	OrderID int
	Amount  int
}

type receiptRequested struct {
	OrderID int
}

var errPaymentDeclined = errors.New("payment declined")

type shop struct {
	db       *sql.DB
	log      *slog.Logger
	receipts atomic.Int64
	flaked   sync.Map
}

func newShop(db *sql.DB, logger *slog.Logger) *shop {
	return &shop{db: db, log: logger}
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `create table if not exists orders (
		id integer primary key,
		amount integer not null,
		status text not null
	)`)
	if err != nil {
		return fmt.Errorf("failed to create orders table: %w", err)
	}
	return nil
}

func (s *shop) bind(registry *eventbus.Registry, observe eventbus.EventProcessor) error {
	placed := eventbus.Typed(s.placeOrder)
	_, err := registry.BindRegistration(ordersContext, eventbus.KeyOf[orderPlaced](), eventbus.NewRegistration(placed).
		Order(10).
		Processor(eventbus.Chain(observe, sqlx.NewTxProcessor(s.db, nil))))
	if err != nil {
		return err
	}

	_, err = registry.BindMethod(ordersContext, s, "CapturePayment", eventbus.MethodSpec{
		Processor:    observe,
		ErrorHandler: "PaymentFailed",
	})
	if err != nil {
		return err
	}

	settings := retry.Settings{TimeBetweenRetries: 10 * time.Millisecond, BackoffFactor: 2, MaxTries: 3}
	for _, name := range []string{"primary", "backup"} {
		mailer, err := retry.Listener(eventbus.Consumer(s.mailer(name)), settings)
		if err != nil {
			return err
		}
		_, err = registry.BindRegistration(ordersContext, eventbus.KeyOf[receiptRequested](), eventbus.NewRegistration(mailer).
			Async(true).
			Processor(observe))
		if err != nil {
			return err
		}
	}
	orders, err := registry.Get(ordersContext)
	if err != nil {
		return err
	}
	return orders.SetPattern(eventbus.KeyOf[receiptRequested](), eventbus.RoundRobin())
}

func (s *shop) placeOrder(ctx context.Context, evt orderPlaced) (paymentCaptured, error) {
	tx, ok := sqlx.TxFrom(ctx)
	if !ok {
		return paymentCaptured{}, errors.New("order placement requires a transaction")
	}
	if _, err := tx.ExecContext(ctx, `insert into orders (id, amount, status) values (?, ?, 'placed')`, evt.ID, evt.Amount); err != nil {
		return paymentCaptured{}, fmt.Errorf("failed to store order %d: %w", evt.ID, err)
	}
	return paymentCaptured{OrderID: evt.ID, Amount: evt.Amount}, nil
}

// CapturePayment runs within the order's transaction, since it's spread synchronously from placeOrder.
func (s *shop) CapturePayment(ctx context.Context, evt paymentCaptured) (receiptRequested, error) {
	if evt.Amount > maxPayment {
		return receiptRequested{}, fmt.Errorf("%w: order %d", errPaymentDeclined, evt.OrderID)
	}
	tx, ok := sqlx.TxFrom(ctx)
	if !ok {
		return receiptRequested{}, errors.New("payment capture requires a transaction")
	}
	if _, err := tx.ExecContext(ctx, `update orders set status = 'paid' where id = ?`, evt.OrderID); err != nil {
		return receiptRequested{}, fmt.Errorf("failed to update order %d: %w", evt.OrderID, err)
	}
	return receiptRequested{OrderID: evt.OrderID}, nil
}

// PaymentFailed propagates declined payments so the order is rolled back.
func (s *shop) PaymentFailed(err error) error {
	s.log.Warn("Payment failed", "error", err)
	return err
}

func (s *shop) mailer(name string) func(ctx context.Context, evt receiptRequested) error {
	return func(ctx context.Context, evt receiptRequested) error {
		// The first attempt for odd orders fails to show retries.
		if evt.OrderID%2 == 1 {
			if _, loaded := s.flaked.LoadOrStore(evt.OrderID, true); !loaded {
				return fmt.Errorf("mailer %s unavailable", name)
			}
		}
		s.receipts.Add(1)
		s.log.Info("Receipt sent", "order", evt.OrderID, "mailer", name)
		return nil
	}
}

func (s *shop) count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `select count(*) from orders where status = 'paid'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}
