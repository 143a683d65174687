package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/metrics"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/store"
)

var (
	hundred = decimal.NewFromInt(100)

	// scoreFloor and scoreCeiling bound every risk score.
	scoreFloor   = decimal.Zero
	scoreCeiling = decimal.NewFromInt(200)

	// defaultScore is the starting score for a lazily created profile.
	defaultScore = decimal.NewFromInt(100)

	// defaultDecayLambda is the per-month decay rate for new profiles.
	defaultDecayLambda = decimal.NewFromFloat(0.1)
)

// clampScore bounds a score into [0, 200].
func clampScore(score decimal.Decimal) decimal.Decimal {
	if score.LessThan(scoreFloor) {
		return scoreFloor
	}
	if score.GreaterThan(scoreCeiling) {
		return scoreCeiling
	}
	return score
}

// Engine is the risk scoring engine: it folds financial events into a
// bounded reputation score using exponential time decay, and derives the
// credit limit from the score.
type Engine struct {
	store store.Store
}

// NewEngine creates a risk scoring engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// ScoreResult is the outcome of one ProcessFinancialEvent call.
type ScoreResult struct {
	Profile     *model.RiskProfile    `json:"profile"`
	Event       *model.FinancialEvent `json:"event"`
	ScoreChange decimal.Decimal       `json:"score_change"`
}

// newProfile builds a fresh profile with default score and decay rate and
// zero limits.
func newProfile(organizationID string, now time.Time) *model.RiskProfile {
	return &model.RiskProfile{
		ID:                 uuid.New().String(),
		OrganizationID:     organizationID,
		Score:              defaultScore,
		BaseCreditLimit:    decimal.Zero,
		CreditMultiplier:   defaultScore.Div(hundred),
		CurrentCreditLimit: decimal.Zero,
		CreditUsed:         decimal.Zero,
		DecayLambda:        defaultDecayLambda,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ensureProfileTx loads the organization's profile inside a transaction,
// creating it with defaults when absent. Idempotent.
func ensureProfileTx(ctx context.Context, tx store.Store, organizationID string, now time.Time) (*model.RiskProfile, error) {
	profile, err := tx.GetRiskProfile(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	profile = newProfile(organizationID, now)
	if err := tx.InsertRiskProfile(ctx, profile); err != nil {
		return nil, err
	}
	slog.Info("risk profile created", "organization_id", organizationID, "profile_id", profile.ID)
	return profile, nil
}

// EnsureProfile creates the organization's risk profile if it does not
// exist, and returns it either way.
func (e *Engine) EnsureProfile(ctx context.Context, organizationID string) (*model.RiskProfile, error) {
	var profile *model.RiskProfile
	err := store.RunSerializable(ctx, e.store, func(tx store.Store) error {
		var err error
		profile, err = ensureProfileTx(ctx, tx, organizationID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile returns the organization's risk profile with its full event
// history, or a not-found fault when no profile exists.
func (e *Engine) GetProfile(ctx context.Context, organizationID string) (*model.RiskProfile, []model.FinancialEvent, error) {
	profile, err := e.store.GetRiskProfile(ctx, organizationID)
	if err != nil {
		return nil, nil, err
	}
	if profile == nil {
		return nil, nil, fault.NotFound("risk profile", organizationID)
	}

	events, err := e.store.ListEventsByProfile(ctx, profile.ID)
	if err != nil {
		return nil, nil, err
	}
	return profile, events, nil
}

// ProcessFinancialEvent records a new event and folds every unprocessed
// event — the new one included — into the profile's score, each weighted by
// e^(−decayLambda × monthsElapsed). Each event is marked processed exactly
// once, ever; re-invoking with no new unprocessed events leaves the score
// unchanged. The whole recalculation runs in one serializable transaction.
func (e *Engine) ProcessFinancialEvent(ctx context.Context, organizationID string, eventType model.EventType, impactValue decimal.Decimal, description string) (*ScoreResult, error) {
	if !eventType.Valid() {
		return nil, fault.BusinessRule("unknown financial event type", map[string]string{
			"event_type": string(eventType),
		})
	}

	var result *ScoreResult

	err := store.RunSerializable(ctx, e.store, func(tx store.Store) error {
		now := time.Now().UTC()

		profile, err := ensureProfileTx(ctx, tx, organizationID, now)
		if err != nil {
			return err
		}

		newEvent := &model.FinancialEvent{
			ID:          uuid.New().String(),
			ProfileID:   profile.ID,
			EventType:   eventType,
			ImpactValue: impactValue,
			Description: description,
			OccurredAt:  now,
			Processed:   false,
		}
		if err := tx.InsertFinancialEvent(ctx, newEvent); err != nil {
			return err
		}

		// All unprocessed events, the new one included.
		pending, err := tx.ListUnprocessedEvents(ctx, profile.ID)
		if err != nil {
			return err
		}

		oldScore := profile.Score
		score := profile.Score
		for i := range pending {
			ev := &pending[i]
			score = score.Add(decayedImpact(ev.ImpactValue, profile.DecayLambda, ev.OccurredAt, now))
			if err := tx.MarkEventProcessed(ctx, ev.ID, now); err != nil {
				return err
			}
		}

		// Clamp and derive credit state; runs even with zero pending events.
		profile.Score = clampScore(score)
		profile.CreditMultiplier = profile.Score.Div(hundred)
		profile.CurrentCreditLimit = profile.BaseCreditLimit.Mul(profile.CreditMultiplier)
		profile.UpdatedAt = now

		if err := tx.UpdateRiskProfile(ctx, profile); err != nil {
			return err
		}

		processedAt := now
		newEvent.Processed = true
		newEvent.ProcessedAt = &processedAt

		metrics.FinancialEventsProcessed.Add(float64(len(pending)))
		result = &ScoreResult{
			Profile:     profile,
			Event:       newEvent,
			ScoreChange: profile.Score.Sub(oldScore),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("financial event processed",
		"organization_id", organizationID,
		"event_type", string(eventType),
		"impact", impactValue.String(),
		"score", result.Profile.Score.String(),
		"score_change", result.ScoreChange.String(),
	)
	return result, nil
}
