package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sovmarket/financial-core/internal/fault"
)

// PostgreSQL SQLSTATE codes that indicate a retryable isolation conflict.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

// ErrTxConflict is the conflict sentinel used by non-SQL stores (MemoryStore
// conflict injection). PostgresStore surfaces pgconn errors instead.
var ErrTxConflict = errors.New("store: transaction serialization conflict")

// DefaultTxTimeout is the wall-clock budget for one transaction attempt.
// On expiry the transaction rolls back fully.
const DefaultTxTimeout = 5 * time.Second

// Retry policy for serializable transactions: bounded attempts with
// exponential backoff. After the budget is exhausted the conflict surfaces
// to the caller as a transient fault.
const (
	maxTxAttempts  = 4
	initialBackoff = 10 * time.Millisecond
)

// txOutcome classifies the result of one transaction attempt.
type txOutcome int

const (
	txSuccess txOutcome = iota
	txTransientConflict
	txPermanentFailure
)

// IsConflict reports whether err is a retryable isolation conflict:
// a PostgreSQL serialization failure or deadlock, or the memory-store
// conflict sentinel.
func IsConflict(err error) bool {
	if errors.Is(err, ErrTxConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected:
			return true
		}
	}
	return false
}

func classify(err error) txOutcome {
	switch {
	case err == nil:
		return txSuccess
	case IsConflict(err):
		return txTransientConflict
	default:
		return txPermanentFailure
	}
}

// RunSerializable executes fn inside a serializable transaction, retrying
// isolation conflicts with exponential backoff up to the attempt ceiling.
// Invariant breaches and business failures are never retried; they abort on
// the first attempt. After exhausting the budget the last conflict surfaces
// as a transient fault.
func RunSerializable(ctx context.Context, st Store, fn func(tx Store) error) error {
	opts := TxOptions{Isolation: Serializable, Timeout: DefaultTxTimeout}

	var err error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = st.InTx(ctx, opts, fn)

		switch classify(err) {
		case txSuccess:
			return nil
		case txPermanentFailure:
			return err
		case txTransientConflict:
			if attempt == maxTxAttempts {
				break
			}
			slog.Warn("transaction conflict, retrying",
				"attempt", attempt,
				"backoff", backoff.String(),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fault.Transient("transaction canceled during retry backoff", ctx.Err())
			}
			backoff *= 2
		}
	}

	return fault.Transient("transaction conflict persisted after retries", err)
}
