// Package store defines the persistence interface for the financial core.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing). All multi-step mutations run through InTx; the Price Lock
// Manager and both risk engines require serializable isolation.
package store

import (
	"context"
	"time"

	"github.com/sovmarket/financial-core/internal/model"
)

// IsolationLevel selects the transaction isolation for InTx.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	Serializable
)

// TxOptions configures one InTx call. A zero Timeout means no transaction-
// level deadline beyond the caller's context.
type TxOptions struct {
	Isolation IsolationLevel
	Timeout   time.Duration
}

// Store is the persistence interface. PostgreSQL is the source of truth.
type Store interface {
	// InTx runs fn inside a single transaction. When fn returns an error the
	// transaction rolls back fully, leaving pre-transaction state untouched.
	// Serialization conflicts surface as errors classified by IsConflict.
	InTx(ctx context.Context, opts TxOptions, fn func(tx Store) error) error

	// --- Products ---

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// --- Volatility indices ---

	CreateVolatilityIndex(ctx context.Context, v *model.VolatilityIndex) error

	// GetVolatilityIndex returns (nil, nil) when the index does not exist;
	// pricing treats absent and inactive indices identically (multiplier 1).
	GetVolatilityIndex(ctx context.Context, id string) (*model.VolatilityIndex, error)

	// UpdateVolatilityIndexValue sets a new multiplier and effective time.
	UpdateVolatilityIndexValue(ctx context.Context, v *model.VolatilityIndex) error

	// --- B2B relations ---

	CreateB2BRelation(ctx context.Context, r *model.B2BRelation) error

	// FirstActiveRelationForBuyer returns the first active relation where the
	// organization is buyer, or (nil, nil) when none exists.
	FirstActiveRelationForBuyer(ctx context.Context, buyerOrgID string) (*model.B2BRelation, error)

	// --- Price locks ---

	// DeactivatePriceLocks clears IsActive on every active lock for the pair.
	DeactivatePriceLocks(ctx context.Context, productID, organizationID string) error

	InsertPriceLock(ctx context.Context, l *model.PriceLock) error

	// GetActivePriceLock returns the active, unexpired lock for the pair, or
	// (nil, nil) when none exists. Expired locks are lazily ignored, never
	// mutated by reads.
	GetActivePriceLock(ctx context.Context, productID, organizationID string, now time.Time) (*model.PriceLock, error)

	// CountActiveLocks counts rows with IsActive = true for the pair,
	// regardless of expiry. Used for the at-most-one-active-lock invariant.
	CountActiveLocks(ctx context.Context, productID, organizationID string) (int, error)

	// --- Risk profiles ---

	// GetRiskProfile returns (nil, nil) when the organization has no profile.
	GetRiskProfile(ctx context.Context, organizationID string) (*model.RiskProfile, error)

	// GetRiskProfileByID returns (nil, nil) when no profile has the given ID.
	GetRiskProfileByID(ctx context.Context, profileID string) (*model.RiskProfile, error)

	InsertRiskProfile(ctx context.Context, p *model.RiskProfile) error
	UpdateRiskProfile(ctx context.Context, p *model.RiskProfile) error

	// --- Financial events ---

	InsertFinancialEvent(ctx context.Context, e *model.FinancialEvent) error

	// ListUnprocessedEvents returns events with Processed = false, oldest first.
	ListUnprocessedEvents(ctx context.Context, profileID string) ([]model.FinancialEvent, error)

	// MarkEventProcessed flips Processed exactly once; the engine never
	// issues a second call for the same event.
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error

	ListEventsByProfile(ctx context.Context, profileID string) ([]model.FinancialEvent, error)

	// --- Reputation vouches ---

	InsertVouch(ctx context.Context, v *model.ReputationVouch) error

	// ListActiveVouchesForVouchee returns active, non-defaulted, unexpired
	// vouches backing the given profile. Expiry is a read-time filter.
	ListActiveVouchesForVouchee(ctx context.Context, voucheeProfileID string, now time.Time) ([]model.ReputationVouch, error)

	// MarkVouchDefaulted transitions a vouch to its terminal state:
	// IsActive = false, IsDefaulted = true, DefaultedAt = at.
	MarkVouchDefaulted(ctx context.Context, vouchID string, at time.Time) error
}
