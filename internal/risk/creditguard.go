package risk

import (
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/model"
)

// CreditGuard validates vouch requests against a voucher's available credit.
//
// Available credit is CurrentCreditLimit − CreditUsed; a vouch may never
// exceed it. The sum of risk-share percentages across vouchers backing the
// same vouchee is deliberately unconstrained: vouches are independent
// guarantees, not a partition of the default amount.
type CreditGuard struct {
	// MaxSingleVouch caps any one vouch amount. Zero means uncapped.
	MaxSingleVouch decimal.Decimal
}

// NewCreditGuard creates a guard with the given single-vouch cap
// (zero = uncapped).
func NewCreditGuard(maxSingleVouch decimal.Decimal) *CreditGuard {
	return &CreditGuard{MaxSingleVouch: maxSingleVouch}
}

// CheckVouch validates a proposed vouch before any state mutation. Returns
// nil when the vouch is admissible, or a typed fault describing the refusal.
func (g *CreditGuard) CheckVouch(voucher *model.RiskProfile, amount, riskShare decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fault.BusinessRule("vouch amount must be positive", map[string]string{
			"vouch_amount": amount.String(),
		})
	}
	if riskShare.IsNegative() || riskShare.GreaterThan(hundred) {
		return fault.BusinessRule("risk share percentage must be between 0 and 100", map[string]string{
			"risk_share_percentage": riskShare.String(),
		})
	}
	if g.MaxSingleVouch.IsPositive() && amount.GreaterThan(g.MaxSingleVouch) {
		return fault.BusinessRule("vouch amount exceeds single-vouch cap", map[string]string{
			"vouch_amount": amount.String(),
			"cap":          g.MaxSingleVouch.String(),
		})
	}

	if available := voucher.AvailableCredit(); available.LessThan(amount) {
		return fault.InsufficientCredit(available, amount)
	}
	return nil
}
