package pricing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/metrics"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/store"
)

// LockManager atomically freezes computed prices. It guarantees the
// at-most-one-active-lock invariant per (product, organization) pair by
// replacing any existing active lock inside a serializable transaction;
// conflicting concurrent requests are retried with bounded backoff.
type LockManager struct {
	store store.Store
	calc  *Calculator
	cache *CacheCoordinator
}

// NewLockManager creates a price lock manager.
func NewLockManager(st store.Store, calc *Calculator, cache *CacheCoordinator) *LockManager {
	return &LockManager{store: st, calc: calc, cache: cache}
}

// LockPrice computes the current price and freezes it for durationDays.
// Fails with a business-rule fault — and mutates nothing — when the computed
// price is below the minimum margin. The active-lock invariant is verified
// inside the transaction, after the insert: a breach rolls back and aborts
// with an invariant fault, never a retry. After commit the exact cache key
// for this calculation is evicted.
func (m *LockManager) LockPrice(ctx context.Context, productID, organizationID, indexID string, durationDays int) (*model.PriceLock, error) {
	if durationDays <= 0 {
		return nil, fault.BusinessRule("lock duration must be at least one day", map[string]string{
			"duration_days": strconv.Itoa(durationDays),
		})
	}

	calc, err := m.calc.ComputePrice(ctx, productID, organizationID, indexID)
	if err != nil {
		return nil, err
	}

	if !calc.IsWithinMargin {
		return nil, fault.BusinessRule("price below minimum margin", map[string]string{
			"final_price":           calc.FinalPrice.String(),
			"minimum_allowed_price": calc.MinimumAllowedPrice.String(),
		})
	}

	now := time.Now().UTC()
	lock := &model.PriceLock{
		ID:                uuid.New().String(),
		ProductID:         productID,
		OrganizationID:    organizationID,
		VolatilityIndexID: calc.VolatilityIndexID,
		BasePrice:         calc.BasePrice,
		IndexMultiplier:   calc.IndexMultiplier,
		TierDiscount:      calc.TierDiscount,
		LockedPrice:       calc.FinalPrice,
		IsActive:          true,
		LockedAt:          now,
		ExpiresAt:         now.AddDate(0, 0, durationDays),
	}

	err = store.RunSerializable(ctx, m.store, func(tx store.Store) error {
		if err := tx.DeactivatePriceLocks(ctx, productID, organizationID); err != nil {
			return err
		}
		if err := tx.InsertPriceLock(ctx, lock); err != nil {
			return err
		}

		// Invariant check before commit: exactly one active lock must
		// remain for the pair. A breach rolls the transaction back.
		count, err := tx.CountActiveLocks(ctx, productID, organizationID)
		if err != nil {
			return err
		}
		if count != 1 {
			metrics.InvariantBreaches.Inc()
			slog.Error("active price lock count invariant breached",
				"product_id", productID,
				"organization_id", organizationID,
				"active_locks", count,
			)
			return fault.Invariant("active price lock count is not exactly one", map[string]string{
				"product_id":      productID,
				"organization_id": organizationID,
				"active_locks":    strconv.Itoa(count),
			})
		}
		return nil
	})
	if err != nil {
		if fault.IsKind(err, fault.KindTransient) {
			metrics.LockConflicts.Inc()
		}
		return nil, err
	}

	m.cache.Evict(ctx, productID, organizationID, indexID)
	metrics.PriceLocksCreated.Inc()

	slog.Info("price locked",
		"lock_id", lock.ID,
		"product_id", productID,
		"organization_id", organizationID,
		"locked_price", lock.LockedPrice.String(),
		"expires_at", lock.ExpiresAt,
	)
	return lock, nil
}

// GetActivePriceLock returns the active, unexpired lock for the pair, or nil
// when none exists. Expired locks are lazily ignored; reads never mutate.
func (m *LockManager) GetActivePriceLock(ctx context.Context, productID, organizationID string) (*model.PriceLock, error) {
	return m.store.GetActivePriceLock(ctx, productID, organizationID, time.Now().UTC())
}
