// Package model defines the core domain types shared across the financial core.
// All monetary values and ratios use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TierLevel is the relationship tier of a buyer/supplier B2B relation.
type TierLevel string

const (
	TierBronze TierLevel = "BRONZE"
	TierSilver TierLevel = "SILVER"
	TierGold   TierLevel = "GOLD"
)

// Valid reports whether t is a known tier.
func (t TierLevel) Valid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold:
		return true
	}
	return false
}

// EventType is the closed set of financial event kinds. Decay and penalty
// logic only ever sees these variants; unknown kinds are rejected at the edge.
type EventType string

const (
	EventPaymentOnTime  EventType = "PAYMENT_ON_TIME"
	EventPaymentLate    EventType = "PAYMENT_LATE"
	EventOrderCompleted EventType = "ORDER_COMPLETED"
	EventDisputeLost    EventType = "DISPUTE_LOST"
	EventDefault        EventType = "DEFAULT"
	EventVouchedFailure EventType = "VOUCHED_FAILURE"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventPaymentOnTime, EventPaymentLate, EventOrderCompleted,
		EventDisputeLost, EventDefault, EventVouchedFailure:
		return true
	}
	return false
}

// Product is a sellable item owned by an organization. Immutable during a
// single price calculation; externally mutable between calculations.
type Product struct {
	ID                string          `json:"id" db:"id"`
	OrganizationID    string          `json:"organization_id" db:"organization_id"`
	Name              string          `json:"name" db:"name"`
	Price             decimal.Decimal `json:"price" db:"price"`           // base price
	CostPrice         decimal.Decimal `json:"cost_price" db:"cost_price"` // margin floor input
	VolatilityIndexID string          `json:"volatility_index_id,omitempty" db:"volatility_index_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// VolatilityIndex is a market-condition multiplier applied to base prices.
// Only an active index participates in pricing; an inactive or absent index
// defaults the multiplier to exactly 1.
type VolatilityIndex struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	IndexValue    decimal.Decimal `json:"index_value" db:"index_value"` // typically 0.5–3.0
	EffectiveFrom time.Time       `json:"effective_from" db:"effective_from"`
	IsActive      bool            `json:"is_active" db:"is_active"`
}

// B2BRelation links a buyer organization to a supplier with a negotiated tier.
// At most one relation is considered per buyer query (first active match).
type B2BRelation struct {
	ID                 string          `json:"id" db:"id"`
	BuyerOrgID         string          `json:"buyer_org_id" db:"buyer_org_id"`
	SupplierOrgID      string          `json:"supplier_org_id" db:"supplier_org_id"`
	TierLevel          TierLevel       `json:"tier_level" db:"tier_level"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage" db:"discount_percentage"` // additive extra
	IsActive           bool            `json:"is_active" db:"is_active"`
}

// PriceCalculation is the derived result of one pricing pass. It is never
// persisted; it is cached with a TTL because its inputs can change without
// notice. Margin violation is a computed property here, not an error.
type PriceCalculation struct {
	ProductID           string          `json:"product_id"`
	OrganizationID      string          `json:"organization_id"`
	VolatilityIndexID   string          `json:"volatility_index_id,omitempty"`
	BasePrice           decimal.Decimal `json:"base_price"`
	IndexMultiplier     decimal.Decimal `json:"index_multiplier"`
	TierDiscount        decimal.Decimal `json:"tier_discount"` // percentage points
	FinalPrice          decimal.Decimal `json:"final_price"`
	MinimumAllowedPrice decimal.Decimal `json:"minimum_allowed_price"`
	IsWithinMargin      bool            `json:"is_within_margin"`
	CalculatedAt        time.Time       `json:"calculated_at"`
}

// PriceLock is a frozen snapshot of a PriceCalculation with an expiry.
// Invariant: for a given (productID, organizationID) pair, at most one
// PriceLock has IsActive = true at any instant. Expiry is a read-time
// filter, not an active sweep.
type PriceLock struct {
	ID                string          `json:"id" db:"id"`
	ProductID         string          `json:"product_id" db:"product_id"`
	OrganizationID    string          `json:"organization_id" db:"organization_id"`
	VolatilityIndexID string          `json:"volatility_index_id,omitempty" db:"volatility_index_id"`
	BasePrice         decimal.Decimal `json:"base_price" db:"base_price"`
	IndexMultiplier   decimal.Decimal `json:"index_multiplier" db:"index_multiplier"`
	TierDiscount      decimal.Decimal `json:"tier_discount" db:"tier_discount"`
	LockedPrice       decimal.Decimal `json:"locked_price" db:"locked_price"`
	IsActive          bool            `json:"is_active" db:"is_active"`
	LockedAt          time.Time       `json:"locked_at" db:"locked_at"`
	ExpiresAt         time.Time       `json:"expires_at" db:"expires_at"`
}

// RiskProfile is the per-organization trust state. Score lives in [0, 200]
// and starts at 100; CreditMultiplier is score/100 and CurrentCreditLimit is
// BaseCreditLimit × CreditMultiplier except while inflated by active vouches.
type RiskProfile struct {
	ID                 string          `json:"id" db:"id"`
	OrganizationID     string          `json:"organization_id" db:"organization_id"`
	Score              decimal.Decimal `json:"score" db:"score"`
	BaseCreditLimit    decimal.Decimal `json:"base_credit_limit" db:"base_credit_limit"`
	CreditMultiplier   decimal.Decimal `json:"credit_multiplier" db:"credit_multiplier"`
	CurrentCreditLimit decimal.Decimal `json:"current_credit_limit" db:"current_credit_limit"`
	CreditUsed         decimal.Decimal `json:"credit_used" db:"credit_used"`
	DecayLambda        decimal.Decimal `json:"decay_lambda" db:"decay_lambda"` // per-month
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableCredit returns CurrentCreditLimit − CreditUsed.
func (p *RiskProfile) AvailableCredit() decimal.Decimal {
	return p.CurrentCreditLimit.Sub(p.CreditUsed)
}

// FinancialEvent is one signed impact on a risk profile. Once Processed is
// true the event must never be re-applied to the score.
type FinancialEvent struct {
	ID          string          `json:"id" db:"id"`
	ProfileID   string          `json:"profile_id" db:"profile_id"`
	EventType   EventType       `json:"event_type" db:"event_type"`
	ImpactValue decimal.Decimal `json:"impact_value" db:"impact_value"` // signed
	Description string          `json:"description" db:"description"`
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`
	Processed   bool            `json:"processed" db:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// ReputationVouch is a risk-sharing guarantee from one organization's profile
// to another's. Lifecycle: created active → naturally expires (read-time
// filter) or is defaulted (terminal). A defaulted vouch is never reactivated.
type ReputationVouch struct {
	ID                  string          `json:"id" db:"id"`
	VoucherProfileID    string          `json:"voucher_profile_id" db:"voucher_profile_id"`
	VoucheeProfileID    string          `json:"vouchee_profile_id" db:"vouchee_profile_id"`
	VouchAmount         decimal.Decimal `json:"vouch_amount" db:"vouch_amount"` // ceiling guarantee
	RiskSharePercentage decimal.Decimal `json:"risk_share_percentage" db:"risk_share_percentage"`
	IsActive            bool            `json:"is_active" db:"is_active"`
	IsDefaulted         bool            `json:"is_defaulted" db:"is_defaulted"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	DefaultedAt         *time.Time      `json:"defaulted_at,omitempty" db:"defaulted_at"`
}
