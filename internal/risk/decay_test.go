package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMonthsElapsed(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name     string
		age      time.Duration
		expected float64
	}{
		{"zero", 0, 0},
		{"one month", 30 * 24 * time.Hour, 1},
		{"half month", 15 * 24 * time.Hour, 0.5},
		{"one year", 360 * 24 * time.Hour, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := monthsElapsed(now.Add(-tt.age), now)
			if got != tt.expected {
				t.Errorf("expected %v months, got %v", tt.expected, got)
			}
		})
	}
}

func TestDecayFactor_ZeroElapsedIsOne(t *testing.T) {
	f := decayFactor(d(0.1), 0)
	if !f.Equal(d(1)) {
		t.Errorf("expected factor 1 at zero elapsed, got %s", f)
	}
}

func TestDecayFactor_FutureEventsFlooredToFullWeight(t *testing.T) {
	f := decayFactor(d(0.1), -5)
	if !f.Equal(d(1)) {
		t.Errorf("expected factor 1 for negative elapsed, got %s", f)
	}
}

func TestDecayFactor_StrictlyDecreasing(t *testing.T) {
	lambda := d(0.1)
	prev := decayFactor(lambda, 0)
	for _, months := range []float64{1, 3, 6, 12, 24, 60} {
		f := decayFactor(lambda, months)
		if !f.LessThan(prev) {
			t.Errorf("factor not decreasing at %v months: %s >= %s", months, f, prev)
		}
		prev = f
	}
}

func TestDecayFactor_KnownValue(t *testing.T) {
	// e^(−0.1 × 12) = e^(−1.2), rounded to 8 places.
	f := decayFactor(d(0.1), 12)
	if got := f.String(); got != "0.30119421" {
		t.Errorf("expected 0.30119421, got %s", got)
	}
}

func TestDecayFactor_ApproachesZero(t *testing.T) {
	f := decayFactor(d(0.1), 1000)
	if !f.IsZero() {
		t.Errorf("expected factor to round to zero for very old events, got %s", f)
	}
}

func TestDecayedImpact(t *testing.T) {
	now := time.Now().UTC()

	// Zero lambda never decays.
	got := decayedImpact(d(50), decimal.Zero, now.Add(-10000*time.Hour), now)
	if !got.Equal(d(50)) {
		t.Errorf("zero lambda: expected 50, got %s", got)
	}

	// One month at lambda 0.1: 100 × e^(−0.1).
	got = decayedImpact(d(100), d(0.1), now.Add(-30*24*time.Hour), now)
	if got.String() != "90.483742" {
		t.Errorf("expected 90.483742, got %s", got)
	}

	// Sign is preserved for negative impacts.
	got = decayedImpact(d(-100), d(0.1), now.Add(-30*24*time.Hour), now)
	if got.String() != "-90.483742" {
		t.Errorf("expected -90.483742, got %s", got)
	}
}
