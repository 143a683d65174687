package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/metrics"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/store"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// minMarginMultiplier fixes the margin floor at cost × 1.10. This is a
	// system parameter, not per-tenant configurable.
	minMarginMultiplier = decimal.NewFromFloat(1.10)

	// tierBaseDiscount maps relation tiers to their base discount in
	// percentage points. A relation's DiscountPercentage is added on top.
	tierBaseDiscount = map[model.TierLevel]decimal.Decimal{
		model.TierGold:   decimal.NewFromInt(25),
		model.TierSilver: decimal.NewFromInt(15),
		model.TierBronze: decimal.NewFromInt(5),
	}
)

// Calculator computes sovereign prices: base price × volatility multiplier ×
// tier discount, with the margin-safety property evaluated on every result.
// Results are memoized through the cache coordinator.
type Calculator struct {
	store store.Store
	cache *CacheCoordinator
}

// NewCalculator creates a pricing calculator.
func NewCalculator(st store.Store, cache *CacheCoordinator) *Calculator {
	return &Calculator{store: st, cache: cache}
}

// ComputePrice calculates the final price for a product bought by an
// organization, optionally under a volatility index (empty indexID = none).
//
// The arithmetic is decimal end-to-end and reproducible byte-for-byte given
// identical inputs:
//
//	finalPrice = basePrice × indexMultiplier × (1 − tierDiscount/100)
//	minimumAllowedPrice = costPrice × 1.10
//
// A margin violation is a computed property of the result, not an error;
// the result is written through the cache either way.
func (c *Calculator) ComputePrice(ctx context.Context, productID, organizationID, indexID string) (*model.PriceCalculation, error) {
	if cached := c.cache.Get(ctx, productID, organizationID, indexID); cached != nil {
		return cached, nil
	}

	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fault.NotFound("product", productID)
	}

	multiplier := one
	if indexID != "" {
		index, err := c.store.GetVolatilityIndex(ctx, indexID)
		if err != nil {
			return nil, err
		}
		// Inactive or absent index defaults the multiplier to exactly 1.
		if index != nil && index.IsActive {
			multiplier = index.IndexValue
		}
	}

	tierDiscount := decimal.Zero
	relation, err := c.store.FirstActiveRelationForBuyer(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if relation != nil {
		tierDiscount = tierBaseDiscount[relation.TierLevel].Add(relation.DiscountPercentage)
	}

	discountMultiplier := one.Sub(tierDiscount.Div(hundred))
	if discountMultiplier.IsNegative() || discountMultiplier.GreaterThan(one) {
		// No clamp: a discount outside [0, 100] inflates the price or turns
		// it negative. Flagged here so operators can see it; the margin
		// guard remains the only downstream protection.
		slog.Warn("tier discount outside [0, 100], price distorted",
			"organization_id", organizationID,
			"tier_discount", tierDiscount.String(),
		)
	}

	finalPrice := product.Price.Mul(multiplier).Mul(discountMultiplier)
	minimumAllowed := product.CostPrice.Mul(minMarginMultiplier)

	calc := &model.PriceCalculation{
		ProductID:           productID,
		OrganizationID:      organizationID,
		VolatilityIndexID:   indexID,
		BasePrice:           product.Price,
		IndexMultiplier:     multiplier,
		TierDiscount:        tierDiscount,
		FinalPrice:          finalPrice,
		MinimumAllowedPrice: minimumAllowed,
		IsWithinMargin:      finalPrice.GreaterThanOrEqual(minimumAllowed),
		CalculatedAt:        time.Now().UTC(),
	}

	metrics.PriceCalculations.Inc()
	if !calc.IsWithinMargin {
		metrics.MarginViolations.Inc()
	}

	c.cache.Put(ctx, calc)
	return calc, nil
}
