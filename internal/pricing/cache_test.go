package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sovmarket/financial-core/internal/model"
)

func putCalc(t *testing.T, coord *CacheCoordinator, productID, orgID, indexID string) {
	t.Helper()
	coord.Put(context.Background(), &model.PriceCalculation{
		ProductID:         productID,
		OrganizationID:    orgID,
		VolatilityIndexID: indexID,
		BasePrice:         d(100),
		IndexMultiplier:   d(1),
		FinalPrice:        d(100),
		CalculatedAt:      time.Now().UTC(),
	})
}

// --- Coordinator tests ---

func TestCacheCoordinator_PutGetRoundTrip(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	putCalc(t, coord, "prod-1", "org-1", "idx-1")

	got := coord.Get(context.Background(), "prod-1", "org-1", "idx-1")
	if got == nil {
		t.Fatal("expected cache hit")
	}
	if got.ProductID != "prod-1" || got.OrganizationID != "org-1" {
		t.Errorf("wrong entry: %+v", got)
	}
}

func TestCacheCoordinator_MissReturnsNil(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	if got := coord.Get(context.Background(), "prod-1", "org-1", ""); got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestCacheCoordinator_NoIndexAndIndexAreDistinctKeys(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	putCalc(t, coord, "prod-1", "org-1", "")

	if got := coord.Get(context.Background(), "prod-1", "org-1", "idx-1"); got != nil {
		t.Error("indexed lookup must not hit the no-index entry")
	}
	if got := coord.Get(context.Background(), "prod-1", "org-1", ""); got == nil {
		t.Error("expected hit for the no-index key")
	}
}

func TestCacheCoordinator_EvictRemovesExactKeyOnly(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	putCalc(t, coord, "prod-1", "org-1", "idx-1")
	putCalc(t, coord, "prod-1", "org-2", "idx-1")

	coord.Evict(context.Background(), "prod-1", "org-1", "idx-1")

	if got := coord.Get(context.Background(), "prod-1", "org-1", "idx-1"); got != nil {
		t.Error("evicted entry still present")
	}
	if got := coord.Get(context.Background(), "prod-1", "org-2", "idx-1"); got == nil {
		t.Error("eviction removed an unrelated entry")
	}
}

func TestCacheCoordinator_InvalidateForIndex(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	putCalc(t, coord, "prod-1", "org-1", "idx-1")
	putCalc(t, coord, "prod-2", "org-2", "idx-1")
	putCalc(t, coord, "prod-1", "org-1", "idx-2")
	putCalc(t, coord, "prod-1", "org-1", "")

	if err := coord.InvalidateForIndex(context.Background(), "idx-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if coord.Get(ctx, "prod-1", "org-1", "idx-1") != nil {
		t.Error("idx-1 entry for prod-1/org-1 survived invalidation")
	}
	if coord.Get(ctx, "prod-2", "org-2", "idx-1") != nil {
		t.Error("idx-1 entry for prod-2/org-2 survived invalidation")
	}
	if coord.Get(ctx, "prod-1", "org-1", "idx-2") == nil {
		t.Error("idx-2 entry wrongly invalidated")
	}
	if coord.Get(ctx, "prod-1", "org-1", "") == nil {
		t.Error("no-index entry wrongly invalidated")
	}
}

func TestCacheCoordinator_InvalidateForIndexNoEntries(t *testing.T) {
	coord := NewCacheCoordinator(NewMemoryCache())

	if err := coord.InvalidateForIndex(context.Background(), "idx-empty"); err != nil {
		t.Errorf("invalidating with no entries must succeed, got %v", err)
	}
}

// --- Failure degradation tests ---

// brokenCache fails every operation.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) (string, bool, error) { return "", false, errCacheDown }
func (brokenCache) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Delete(context.Context, ...string) error { return errCacheDown }
func (brokenCache) KeysMatching(context.Context, string) ([]string, error) {
	return nil, errCacheDown
}

func TestCacheCoordinator_ReadFailureDegradesToMiss(t *testing.T) {
	coord := NewCacheCoordinator(brokenCache{})

	if got := coord.Get(context.Background(), "prod-1", "org-1", ""); got != nil {
		t.Errorf("expected miss on cache failure, got %+v", got)
	}
}

func TestCacheCoordinator_WriteFailureIsSilent(t *testing.T) {
	coord := NewCacheCoordinator(brokenCache{})

	// Must not panic or surface the error anywhere.
	putCalc(t, coord, "prod-1", "org-1", "")
}

func TestCacheCoordinator_InvalidateFailureSurfaces(t *testing.T) {
	coord := NewCacheCoordinator(brokenCache{})

	err := coord.InvalidateForIndex(context.Background(), "idx-1")
	if !errors.Is(err, errCacheDown) {
		t.Errorf("index invalidation failure must surface, got %v", err)
	}
}

func TestCacheCoordinator_UndecodableEntryIsAMiss(t *testing.T) {
	mem := NewMemoryCache()
	coord := NewCacheCoordinator(mem)

	if err := mem.SetWithTTL(context.Background(), "price:prod-1:org-1:none", "{not json", CacheTTL); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if got := coord.Get(context.Background(), "prod-1", "org-1", ""); got != nil {
		t.Errorf("expected miss for undecodable entry, got %+v", got)
	}
}

// --- MemoryCache tests ---

func TestMemoryCache_ExpiredEntryIsAMiss(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.SetWithTTL(ctx, "k", "v", -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCache_DeleteMissingKeyIsNoop(t *testing.T) {
	cache := NewMemoryCache()

	if err := cache.Delete(context.Background(), "absent"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
