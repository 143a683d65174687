// Package fault defines the typed failure taxonomy raised by the financial
// core: not-found, business-rule violation, insufficient-credit, transient,
// and invariant breach. Callers branch on Kind, never on message strings.
//
// Invariant breaches are kill-switch conditions: they abort the affected
// operation, are logged as critical, and are never retried.
package fault

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a failure.
type Kind int

const (
	// KindNotFound — a referenced product, profile, or index does not exist.
	KindNotFound Kind = iota

	// KindBusinessRule — a precondition failed (e.g. margin guard); no state
	// was mutated.
	KindBusinessRule

	// KindInsufficientCredit — a voucher lacks available credit for the
	// requested vouch amount.
	KindInsufficientCredit

	// KindTransient — a transaction isolation conflict survived the retry
	// budget; the operation may be safely re-issued by the caller.
	KindTransient

	// KindInvariantBreach — internal consistency failure; indicates a defect,
	// never a caller mistake.
	KindInvariantBreach
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindTransient:
		return "transient"
	case KindInvariantBreach:
		return "invariant_breach"
	}
	return "unknown"
}

// Fault is a typed failure with enough structure to explain why without
// leaking internal state.
type Fault struct {
	Kind   Kind
	Msg    string
	Entity string            // entity kind for not-found ("product", "risk profile", ...)
	ID     string            // identifier for not-found
	Detail map[string]string // amounts, thresholds, identifiers
	Err    error             // wrapped cause, if any
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// NotFound reports a missing entity.
func NotFound(entity, id string) *Fault {
	return &Fault{
		Kind:   KindNotFound,
		Msg:    fmt.Sprintf("%s %s not found", entity, id),
		Entity: entity,
		ID:     id,
	}
}

// BusinessRule reports a violated business precondition. Detail carries the
// amounts/thresholds that explain the rejection.
func BusinessRule(msg string, detail map[string]string) *Fault {
	return &Fault{Kind: KindBusinessRule, Msg: msg, Detail: detail}
}

// InsufficientCredit reports that available credit cannot cover requested.
func InsufficientCredit(available, requested decimal.Decimal) *Fault {
	return &Fault{
		Kind: KindInsufficientCredit,
		Msg:  "insufficient available credit to vouch",
		Detail: map[string]string{
			"available": available.String(),
			"requested": requested.String(),
		},
	}
}

// Transient reports a conflict that exhausted its retry budget.
func Transient(msg string, err error) *Fault {
	return &Fault{Kind: KindTransient, Msg: msg, Err: err}
}

// Invariant reports an internal consistency breach.
func Invariant(msg string, detail map[string]string) *Fault {
	return &Fault{Kind: KindInvariantBreach, Msg: msg, Detail: detail}
}

// KindOf extracts the Kind from err, reporting ok=false for untyped errors.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a Fault of the given kind.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
