package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/metrics"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/store"
)

// maxVouchScorePenalty is the score penalty for a fully consumed vouch.
// Since voucherLoss ≤ vouchAmount, the penalty never exceeds this.
var maxVouchScorePenalty = decimal.NewFromInt(20)

// voucheeDefaultImpact is the heavy score impact recorded against a vouchee
// when its default cascades.
var voucheeDefaultImpact = decimal.NewFromInt(-50)

// VouchEngine manages risk-sharing guarantees between organizations and
// propagates proportional penalties to vouchers when a vouchee defaults.
type VouchEngine struct {
	store store.Store
	guard *CreditGuard
}

// NewVouchEngine creates a vouching engine.
func NewVouchEngine(st store.Store, guard *CreditGuard) *VouchEngine {
	return &VouchEngine{store: st, guard: guard}
}

// VoucherPenalty is the per-voucher detail of one cascade pass.
type VoucherPenalty struct {
	VouchID          string          `json:"vouch_id"`
	VoucherProfileID string          `json:"voucher_profile_id"`
	Loss             decimal.Decimal `json:"loss"`
	ScorePenalty     decimal.Decimal `json:"score_penalty"`
}

// CascadeResult summarizes one ProcessVoucheeDefault call.
type CascadeResult struct {
	VoucheeProfileID string           `json:"vouchee_profile_id"`
	VouchesAffected  int              `json:"vouches_affected"`
	Penalties        []VoucherPenalty `json:"penalties"`
}

// VouchForOrganization creates an active vouch from one organization's
// profile to another's. The voucher must already have an established
// profile; the vouchee's is lazily created. On success the vouchee's base
// credit limit grows by the vouch amount and its current limit by the
// amount scaled by the vouchee's own credit multiplier. A guard refusal
// mutates nothing. expirationDays ≤ 0 means the vouch never expires.
func (e *VouchEngine) VouchForOrganization(ctx context.Context, voucherOrgID, voucheeOrgID string, vouchAmount, riskSharePercentage decimal.Decimal, expirationDays int) (*model.ReputationVouch, error) {
	if voucherOrgID == voucheeOrgID {
		return nil, fault.BusinessRule("an organization cannot vouch for itself", map[string]string{
			"organization_id": voucherOrgID,
		})
	}

	var vouch *model.ReputationVouch

	err := store.RunSerializable(ctx, e.store, func(tx store.Store) error {
		now := time.Now().UTC()

		voucher, err := tx.GetRiskProfile(ctx, voucherOrgID)
		if err != nil {
			return err
		}
		if voucher == nil {
			return fault.NotFound("risk profile", voucherOrgID)
		}

		if err := e.guard.CheckVouch(voucher, vouchAmount, riskSharePercentage); err != nil {
			return err
		}

		vouchee, err := ensureProfileTx(ctx, tx, voucheeOrgID, now)
		if err != nil {
			return err
		}

		vouch = &model.ReputationVouch{
			ID:                  uuid.New().String(),
			VoucherProfileID:    voucher.ID,
			VoucheeProfileID:    vouchee.ID,
			VouchAmount:         vouchAmount,
			RiskSharePercentage: riskSharePercentage,
			IsActive:            true,
			CreatedAt:           now,
		}
		if expirationDays > 0 {
			expiresAt := now.AddDate(0, 0, expirationDays)
			vouch.ExpiresAt = &expiresAt
		}
		if err := tx.InsertVouch(ctx, vouch); err != nil {
			return err
		}

		// Inflate the vouchee's credit: the base limit grows by the full
		// vouch amount, the current limit by the amount scaled by the
		// vouchee's own multiplier.
		vouchee.BaseCreditLimit = vouchee.BaseCreditLimit.Add(vouchAmount)
		vouchee.CurrentCreditLimit = vouchee.CurrentCreditLimit.Add(vouchAmount.Mul(vouchee.CreditMultiplier))
		vouchee.UpdatedAt = now
		return tx.UpdateRiskProfile(ctx, vouchee)
	})
	if err != nil {
		return nil, err
	}

	metrics.VouchesCreated.Inc()
	slog.Info("vouch created",
		"vouch_id", vouch.ID,
		"voucher_org", voucherOrgID,
		"vouchee_org", voucheeOrgID,
		"amount", vouchAmount.String(),
		"risk_share", riskSharePercentage.String(),
	)
	return vouch, nil
}

// ProcessVoucheeDefault cascades a vouchee default of defaultAmount to every
// active vouch backing it. Each voucher absorbs
// min(defaultAmount × riskShare/100, vouchAmount), its vouch becomes
// terminally defaulted, its score drops by (loss/vouchAmount) × 20, and a
// pre-processed VOUCHED_FAILURE event records the penalty for audit — it is
// never re-decayed. The vouchee itself takes a heavy pre-processed DEFAULT
// event (impact −50). With no active vouches this is a success with zero
// effect, not an error.
func (e *VouchEngine) ProcessVoucheeDefault(ctx context.Context, voucheeOrgID string, defaultAmount decimal.Decimal) (*CascadeResult, error) {
	if defaultAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fault.BusinessRule("default amount must be positive", map[string]string{
			"default_amount": defaultAmount.String(),
		})
	}

	var result *CascadeResult

	err := store.RunSerializable(ctx, e.store, func(tx store.Store) error {
		now := time.Now().UTC()

		vouchee, err := tx.GetRiskProfile(ctx, voucheeOrgID)
		if err != nil {
			return err
		}
		if vouchee == nil {
			return fault.NotFound("risk profile", voucheeOrgID)
		}

		vouches, err := tx.ListActiveVouchesForVouchee(ctx, vouchee.ID, now)
		if err != nil {
			return err
		}

		result = &CascadeResult{VoucheeProfileID: vouchee.ID}
		if len(vouches) == 0 {
			return nil
		}

		for i := range vouches {
			v := &vouches[i]

			voucherLoss := defaultAmount.Mul(v.RiskSharePercentage).Div(hundred)
			if voucherLoss.GreaterThan(v.VouchAmount) {
				voucherLoss = v.VouchAmount
			}

			if err := tx.MarkVouchDefaulted(ctx, v.ID, now); err != nil {
				return err
			}

			voucher, err := tx.GetRiskProfileByID(ctx, v.VoucherProfileID)
			if err != nil {
				return err
			}
			if voucher == nil {
				return fault.Invariant("vouch references a missing voucher profile", map[string]string{
					"vouch_id":           v.ID,
					"voucher_profile_id": v.VoucherProfileID,
				})
			}

			// (loss / vouchAmount) × 20; capped at 20 since loss ≤ amount.
			scorePenalty := voucherLoss.Div(v.VouchAmount).Mul(maxVouchScorePenalty)

			voucher.Score = clampScore(voucher.Score.Sub(scorePenalty))
			voucher.CreditMultiplier = voucher.Score.Div(hundred)
			voucher.CurrentCreditLimit = voucher.CurrentCreditLimit.Sub(voucherLoss)
			voucher.UpdatedAt = now
			if err := tx.UpdateRiskProfile(ctx, voucher); err != nil {
				return err
			}

			// Audit record only: the penalty is already applied above, so
			// the event is stored pre-processed and never re-decayed.
			processedAt := now
			auditEvent := &model.FinancialEvent{
				ID:          uuid.New().String(),
				ProfileID:   voucher.ID,
				EventType:   model.EventVouchedFailure,
				ImpactValue: scorePenalty.Neg(),
				Description: fmt.Sprintf("vouched organization %s defaulted", voucheeOrgID),
				OccurredAt:  now,
				Processed:   true,
				ProcessedAt: &processedAt,
			}
			if err := tx.InsertFinancialEvent(ctx, auditEvent); err != nil {
				return err
			}

			result.Penalties = append(result.Penalties, VoucherPenalty{
				VouchID:          v.ID,
				VoucherProfileID: voucher.ID,
				Loss:             voucherLoss,
				ScorePenalty:     scorePenalty,
			})
		}
		result.VouchesAffected = len(vouches)

		// The vouchee takes the heavy default hit, applied directly and
		// recorded pre-processed. Its credit limit is not re-derived here;
		// the next full recalculation converges it to base × multiplier.
		vouchee.Score = clampScore(vouchee.Score.Add(voucheeDefaultImpact))
		vouchee.CreditMultiplier = vouchee.Score.Div(hundred)
		vouchee.UpdatedAt = now
		if err := tx.UpdateRiskProfile(ctx, vouchee); err != nil {
			return err
		}

		processedAt := now
		defaultEvent := &model.FinancialEvent{
			ID:          uuid.New().String(),
			ProfileID:   vouchee.ID,
			EventType:   model.EventDefault,
			ImpactValue: voucheeDefaultImpact,
			Description: fmt.Sprintf("default of %s cascaded to %d voucher(s)", defaultAmount.String(), len(vouches)),
			OccurredAt:  now,
			Processed:   true,
			ProcessedAt: &processedAt,
		}
		return tx.InsertFinancialEvent(ctx, defaultEvent)
	})
	if err != nil {
		return nil, err
	}

	if result.VouchesAffected > 0 {
		metrics.CascadeDefaults.Inc()
	}
	slog.Info("vouchee default processed",
		"vouchee_org", voucheeOrgID,
		"default_amount", defaultAmount.String(),
		"vouches_affected", result.VouchesAffected,
	)
	return result, nil
}
