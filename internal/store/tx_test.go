package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sovmarket/financial-core/internal/fault"
)

// --- Conflict classification ---

func TestIsConflict_Sentinel(t *testing.T) {
	if !IsConflict(ErrTxConflict) {
		t.Error("expected sentinel to classify as conflict")
	}
}

func TestIsConflict_WrappedSentinel(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), ErrTxConflict)
	if !IsConflict(wrapped) {
		t.Error("expected wrapped sentinel to classify as conflict")
	}
}

func TestIsConflict_PgSerializationFailure(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := &pgconn.PgError{Code: code}
		if !IsConflict(err) {
			t.Errorf("SQLSTATE %s: expected conflict", code)
		}
	}
}

func TestIsConflict_OtherPgError(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"} // unique violation
	if IsConflict(err) {
		t.Error("unique violation must not classify as conflict")
	}
}

func TestIsConflict_PlainError(t *testing.T) {
	if IsConflict(errors.New("boom")) {
		t.Error("plain error must not classify as conflict")
	}
}

// --- RunSerializable ---

func TestRunSerializable_SucceedsFirstAttempt(t *testing.T) {
	st := NewMemoryStore()
	calls := 0

	err := RunSerializable(context.Background(), st, func(tx Store) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestRunSerializable_RetriesConflictsThenSucceeds(t *testing.T) {
	st := NewMemoryStore()
	st.ConflictsToInject = 3

	calls := 0
	err := RunSerializable(context.Background(), st, func(tx Store) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on final attempt, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected fn to run once after injected conflicts, got %d", calls)
	}
}

func TestRunSerializable_ExhaustedRetriesBecomeTransientFault(t *testing.T) {
	st := NewMemoryStore()
	st.ConflictsToInject = 100

	err := RunSerializable(context.Background(), st, func(tx Store) error {
		t.Fatal("fn must not run when every attempt conflicts")
		return nil
	})
	if !fault.IsKind(err, fault.KindTransient) {
		t.Fatalf("expected transient fault, got %v", err)
	}
	if !errors.Is(err, ErrTxConflict) {
		t.Error("expected the last conflict wrapped in the fault")
	}
}

func TestRunSerializable_PermanentErrorNotRetried(t *testing.T) {
	st := NewMemoryStore()
	boom := errors.New("boom")

	calls := 0
	err := RunSerializable(context.Background(), st, func(tx Store) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the permanent error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent failure retried: %d attempts", calls)
	}
}

func TestRunSerializable_BusinessFaultNotRetried(t *testing.T) {
	st := NewMemoryStore()

	calls := 0
	err := RunSerializable(context.Background(), st, func(tx Store) error {
		calls++
		return fault.BusinessRule("no", nil)
	})
	if !fault.IsKind(err, fault.KindBusinessRule) {
		t.Fatalf("expected business-rule fault, got %v", err)
	}
	if calls != 1 {
		t.Errorf("business failure retried: %d attempts", calls)
	}
}

func TestRunSerializable_CanceledContext(t *testing.T) {
	st := NewMemoryStore()
	st.ConflictsToInject = 100

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunSerializable(ctx, st, func(tx Store) error { return nil })
	if err == nil {
		t.Fatal("expected an error with canceled context")
	}
}
