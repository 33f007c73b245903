package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// RetryConfig bounds WithRetry. Attempt n waits BaseBackoff * 2^n before the next.
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig allows three attempts starting at 100ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond}
}

// WithRetry runs WithTransaction again while it fails with a deadlock,
// serialization failure or busy database
func (m *Manager) WithRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	backoff := m.retry.BaseBackoff
	for attempt := 1; attempt <= m.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", attempt, err)
		}
		lastErr = m.WithTransaction(ctx, fn)
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt == m.retry.MaxRetries {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrDeadlock, m.retry.MaxRetries, lastErr)
}

// SQLSTATE codes of transient conflicts
var retryableStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

var retryableMessages = []string{
	"deadlock detected",
	"deadlock found",
	"lock wait timeout exceeded",
	"could not serialize access",
	"40p01",
	"40001",
}

// IsRetryableError reports whether err is a transient conflict worth retrying
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableStates[pgErr.Code]
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableStates[string(pqErr.Code)]
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
