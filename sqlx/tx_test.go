package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type userCreated struct {
	Name string
}

type auditRequested struct {
	Message string
}

func testDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a different database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	_, err = db.Exec(`create table entries (message text not null)`)
	require.NoError(t, err)
	return db
}

func countEntries(t *testing.T, db *sql.DB) int {
	var count int
	require.NoError(t, db.QueryRow(`select count(*) from entries`).Scan(&count))
	return count
}

func insertEntry(ctx context.Context, message string) error {
	tx, ok := TxFrom(ctx)
	if !ok {
		return errors.New("no transaction")
	}
	_, err := tx.ExecContext(ctx, `insert into entries (message) values (?)`, message)
	return err
}

func TestWithTx(t *testing.T) {
	db := testDB(t)
	err := WithTx(context.Background(), db, nil, func(tx *sql.Tx) error {
		_, err := tx.Exec(`insert into entries (message) values ('committed')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countEntries(t, db))

	failed := errors.New("failed")
	err = WithTx(context.Background(), db, nil, func(tx *sql.Tx) error {
		_, err := tx.Exec(`insert into entries (message) values ('rolled back')`)
		require.NoError(t, err)
		return failed
	})
	assert.ErrorIs(t, err, failed)
	assert.Equal(t, 1, countEntries(t, db))
}

func TestTxProcessor(t *testing.T) {
	var (
		db   = testDB(t)
		proc = NewTxProcessor(db, nil)
		fail bool
	)
	c, err := eventbus.NewContext("users")
	require.NoError(t, err)
	_, err = c.BindListener(eventbus.KeyOf[userCreated](), eventbus.Consumer(func(ctx context.Context, evt userCreated) error {
		if err := insertEntry(ctx, evt.Name); err != nil {
			return err
		}
		if fail {
			return errors.New("failed after insert")
		}
		return nil
	}), proc)
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), userCreated{Name: "alice"}))
	assert.Equal(t, 1, countEntries(t, db), "Successful dispatch should commit")

	fail = true
	assert.Error(t, c.Publish(context.Background(), userCreated{Name: "bob"}))
	assert.Equal(t, 1, countEntries(t, db), "Failed dispatch should roll back")
}

func TestTxProcessor_NestedSpread(t *testing.T) {
	var (
		db   = testDB(t)
		proc = NewTxProcessor(db, nil)
		fail bool
	)
	c, err := eventbus.NewContext("users")
	require.NoError(t, err)
	_, err = c.BindListener(eventbus.KeyOf[userCreated](), eventbus.Typed(func(ctx context.Context, evt userCreated) (auditRequested, error) {
		return auditRequested{Message: "created " + evt.Name}, insertEntry(ctx, evt.Name)
	}), proc)
	require.NoError(t, err)
	_, err = c.BindListener(eventbus.KeyOf[auditRequested](), eventbus.Consumer(func(ctx context.Context, evt auditRequested) error {
		if err := insertEntry(ctx, evt.Message); err != nil {
			return err
		}
		if fail {
			return errors.New("audit failed")
		}
		return nil
	}), proc)
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), userCreated{Name: "alice"}))
	assert.Equal(t, 2, countEntries(t, db), "Both inserts should be committed in the outer transaction")

	fail = true
	assert.Error(t, c.Publish(context.Background(), userCreated{Name: "bob"}))
	assert.Equal(t, 2, countEntries(t, db), "A failed nested dispatch should roll back the outer transaction")
}

func TestTxProcessor_AsyncSpread(t *testing.T) {
	var (
		db        = testDB(t)
		proc      = NewTxProcessor(db, nil)
		asyncErrs = make(chan error, 1)
	)
	c, err := eventbus.NewContext("users", eventbus.OnAsyncError(func(d *eventbus.Dispatch, err error) {
		asyncErrs <- err
	}))
	require.NoError(t, err)
	_, err = c.BindListener(eventbus.KeyOf[userCreated](), eventbus.Typed(func(ctx context.Context, evt userCreated) (auditRequested, error) {
		return auditRequested{Message: "created " + evt.Name}, insertEntry(ctx, evt.Name)
	}), proc)
	require.NoError(t, err)
	reg, err := eventbus.NewRegistration(eventbus.Consumer(func(ctx context.Context, evt auditRequested) error {
		return insertEntry(ctx, evt.Message)
	})).Async(true).Processor(proc).Build()
	require.NoError(t, err)
	require.NoError(t, c.Bind(eventbus.KeyOf[auditRequested](), reg))

	require.NoError(t, c.Publish(context.Background(), userCreated{Name: "alice"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	select {
	case err := <-asyncErrs:
		t.Fatalf("Async listener failed: %v", err)
	default:
	}
	assert.Equal(t, 2, countEntries(t, db), "The async dispatch should commit its own transaction")
}

func TestTxProcessor_BeginFailure(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Close())
	c, err := eventbus.NewContext("users")
	require.NoError(t, err)
	var called bool
	_, err = c.BindListener(eventbus.KeyOf[userCreated](), eventbus.Consumer(func(ctx context.Context, evt userCreated) error {
		called = true
		return nil
	}), NewTxProcessor(db, nil))
	require.NoError(t, err)

	assert.ErrorContains(t, c.Publish(context.Background(), userCreated{Name: "alice"}), "failed to begin transaction")
	assert.False(t, called)
}
