package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/store"
)

func newTestEngine() (*Engine, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewEngine(st), st
}

// --- Profile lifecycle ---

func TestEnsureProfile_CreatesWithDefaults(t *testing.T) {
	engine, _ := newTestEngine()

	profile, err := engine.EnsureProfile(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !profile.Score.Equal(d(100)) {
		t.Errorf("expected starting score 100, got %s", profile.Score)
	}
	if !profile.CreditMultiplier.Equal(d(1)) {
		t.Errorf("expected multiplier 1, got %s", profile.CreditMultiplier)
	}
	if !profile.BaseCreditLimit.IsZero() || !profile.CurrentCreditLimit.IsZero() {
		t.Errorf("expected zero limits, got base=%s current=%s",
			profile.BaseCreditLimit, profile.CurrentCreditLimit)
	}
	if !profile.DecayLambda.Equal(d(0.1)) {
		t.Errorf("expected decay lambda 0.1, got %s", profile.DecayLambda)
	}
}

func TestEnsureProfile_Idempotent(t *testing.T) {
	engine, _ := newTestEngine()

	first, err := engine.EnsureProfile(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := engine.EnsureProfile(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same profile, got %s and %s", first.ID, second.ID)
	}
}

func TestGetProfile_UnknownOrganization(t *testing.T) {
	engine, _ := newTestEngine()

	_, _, err := engine.GetProfile(context.Background(), "org-ghost")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("expected not-found fault, got %v", err)
	}
}

func TestGetProfile_ReturnsEventHistory(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventPaymentOnTime, d(10), "paid"); err != nil {
		t.Fatalf("process: %v", err)
	}

	profile, events, err := engine.GetProfile(ctx, "org-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if profile == nil {
		t.Fatal("expected a profile")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != model.EventPaymentOnTime {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

// --- Event processing ---

func TestProcessFinancialEvent_LazyProfileAndFreshImpact(t *testing.T) {
	engine, _ := newTestEngine()

	// A fresh event decays by e^0 = 1: full impact.
	result, err := engine.ProcessFinancialEvent(context.Background(), "org-1", model.EventPaymentOnTime, d(50), "paid early")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Profile.Score.Equal(d(150)) {
		t.Errorf("expected score 150, got %s", result.Profile.Score)
	}
	if !result.ScoreChange.Equal(d(50)) {
		t.Errorf("expected change 50, got %s", result.ScoreChange)
	}
	if !result.Profile.CreditMultiplier.Equal(d(1.5)) {
		t.Errorf("expected multiplier 1.5, got %s", result.Profile.CreditMultiplier)
	}
	if !result.Event.Processed {
		t.Error("expected the new event marked processed")
	}
}

func TestProcessFinancialEvent_RejectsUnknownType(t *testing.T) {
	engine, st := newTestEngine()

	_, err := engine.ProcessFinancialEvent(context.Background(), "org-1", model.EventType("ALIEN"), d(10), "")
	if !fault.IsKind(err, fault.KindBusinessRule) {
		t.Fatalf("expected business-rule fault, got %v", err)
	}

	// Rejected at the edge: no lazy profile, no event.
	if p, _ := st.GetRiskProfile(context.Background(), "org-1"); p != nil {
		t.Error("rejected event created a profile")
	}
}

func TestProcessFinancialEvent_ClampsAtCeiling(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventPaymentOnTime, d(90), ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	result, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventOrderCompleted, d(50), "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if !result.Profile.Score.Equal(d(200)) {
		t.Errorf("expected score clamped at 200, got %s", result.Profile.Score)
	}
	if !result.ScoreChange.Equal(d(10)) {
		t.Errorf("expected change 10 after clamping, got %s", result.ScoreChange)
	}
	if !result.Profile.CreditMultiplier.Equal(d(2)) {
		t.Errorf("expected multiplier 2, got %s", result.Profile.CreditMultiplier)
	}
}

func TestProcessFinancialEvent_ClampsAtFloor(t *testing.T) {
	engine, _ := newTestEngine()

	result, err := engine.ProcessFinancialEvent(context.Background(), "org-1", model.EventDefault, d(-500), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Profile.Score.IsZero() {
		t.Errorf("expected score clamped at 0, got %s", result.Profile.Score)
	}
	if !result.Profile.CreditMultiplier.IsZero() {
		t.Errorf("expected multiplier 0, got %s", result.Profile.CreditMultiplier)
	}
}

func TestProcessFinancialEvent_ProcessedEventsNeverReapplied(t *testing.T) {
	engine, st := newTestEngine()
	ctx := context.Background()

	if _, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventPaymentOnTime, d(50), ""); err != nil {
		t.Fatalf("first: %v", err)
	}

	// A zero-impact event triggers a full recalculation; the earlier +50 is
	// already folded in and must not be applied a second time.
	result, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventOrderCompleted, decimal.Zero, "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !result.Profile.Score.Equal(d(150)) {
		t.Errorf("expected score unchanged at 150, got %s", result.Profile.Score)
	}
	if !result.ScoreChange.IsZero() {
		t.Errorf("expected zero change, got %s", result.ScoreChange)
	}

	pending, _ := st.ListUnprocessedEvents(ctx, result.Profile.ID)
	if len(pending) != 0 {
		t.Errorf("expected no pending events, got %d", len(pending))
	}
}

func TestProcessFinancialEvent_FoldsBackloggedEventsWithDecay(t *testing.T) {
	engine, st := newTestEngine()
	ctx := context.Background()

	profile, err := engine.EnsureProfile(ctx, "org-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// A month-old unprocessed event decays by e^(−0.1) before folding.
	aged := &model.FinancialEvent{
		ID:          uuid.New().String(),
		ProfileID:   profile.ID,
		EventType:   model.EventPaymentOnTime,
		ImpactValue: d(100),
		OccurredAt:  time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	if err := st.InsertFinancialEvent(ctx, aged); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventOrderCompleted, decimal.Zero, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// 100 + 100 × e^(−0.1) + 0 = 190.483742 at the fixed decay scale.
	if got := result.Profile.Score.String(); got != "190.483742" {
		t.Errorf("expected score 190.483742, got %s", got)
	}

	pending, _ := st.ListUnprocessedEvents(ctx, profile.ID)
	if len(pending) != 0 {
		t.Errorf("backlogged event not marked processed: %d pending", len(pending))
	}
}

func TestProcessFinancialEvent_DerivesCreditLimit(t *testing.T) {
	engine, st := newTestEngine()
	ctx := context.Background()

	profile, err := engine.EnsureProfile(ctx, "org-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	profile.BaseCreditLimit = d(1000)
	if err := st.UpdateRiskProfile(ctx, profile); err != nil {
		t.Fatalf("update: %v", err)
	}

	result, err := engine.ProcessFinancialEvent(ctx, "org-1", model.EventPaymentOnTime, d(20), "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// Score 120 → multiplier 1.2 → limit 1000 × 1.2.
	if !result.Profile.CurrentCreditLimit.Equal(d(1200)) {
		t.Errorf("expected credit limit 1200, got %s", result.Profile.CurrentCreditLimit)
	}
}
