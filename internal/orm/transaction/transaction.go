// Package transaction runs database/sql work inside transactions with
// isolation control, a write timeout and retry of transient failures.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeadlock is returned when a transaction still conflicts after every retry
	ErrDeadlock = errors.New("deadlock detected")
	// ErrTransactionTimeout is returned when a transaction outlives the manager's timeout
	ErrTransactionTimeout = errors.New("transaction timeout")
)

// Manager opens transactions on one database
type Manager struct {
	db        *sql.DB
	isolation sql.IsolationLevel
	retry     RetryConfig
	timeout   time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithIsolation sets the isolation level of every transaction.
// sql.LevelDefault, the default, leaves it to the driver as sqlite requires.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(m *Manager) { m.isolation = level }
}

// WithRetryConfig sets the retry behavior used by WithRetry
func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Manager) {
		if cfg.MaxRetries > 0 {
			m.retry = cfg
		}
	}
}

// WithTimeout bounds every transaction; zero disables the bound
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a manager for db
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying database handle
func (m *Manager) DB() *sql.DB {
	return m.db
}

func (m *Manager) txOptions() *sql.TxOptions {
	if m.isolation == sql.LevelDefault {
		return nil
	}
	return &sql.TxOptions{Isolation: m.isolation}
}

// WithTransaction runs fn in a transaction, committing when it returns nil
// and rolling back on an error or panic
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.run(ctx, fn)
	if err != nil && m.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: exceeded %v: %v", ErrTransactionTimeout, m.timeout, err)
	}
	return err
}

func (m *Manager) run(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := m.db.BeginTx(ctx, m.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
