package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/fault"
	"github.com/sovmarket/financial-core/internal/model"
	"github.com/sovmarket/financial-core/internal/pricing"
	"github.com/sovmarket/financial-core/internal/risk"
	"github.com/sovmarket/financial-core/internal/store"
)

// Service holds the engines behind the HTTP surface.
type Service struct {
	store store.Store
	calc  *pricing.Calculator
	locks *pricing.LockManager
	cache *pricing.CacheCoordinator
	risk  *risk.Engine
	vouch *risk.VouchEngine
	hub   *Hub // optional; nil disables broadcasting
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, calc *pricing.Calculator, locks *pricing.LockManager, cache *pricing.CacheCoordinator, riskEngine *risk.Engine, vouchEngine *risk.VouchEngine, hub *Hub) *Service {
	return &Service{
		store: st,
		calc:  calc,
		locks: locks,
		cache: cache,
		risk:  riskEngine,
		vouch: vouchEngine,
		hub:   hub,
	}
}

// Register mounts all routes under the given router.
func (s *Service) Register(r chi.Router) {
	r.Post("/products", s.CreateProduct)
	r.Get("/products/{productID}", s.GetProduct)
	r.Get("/products/{productID}/price", s.ComputePrice)

	r.Post("/indices", s.CreateVolatilityIndex)
	r.Put("/indices/{indexID}", s.UpdateVolatilityIndex)

	r.Post("/relations", s.CreateB2BRelation)

	r.Post("/locks", s.LockPrice)
	r.Get("/locks", s.GetActivePriceLock)

	r.Post("/events", s.ProcessFinancialEvent)

	r.Post("/profiles/{organizationID}", s.EnsureProfile)
	r.Get("/profiles/{organizationID}", s.GetProfile)

	r.Post("/vouches", s.VouchForOrganization)
	r.Get("/vouches", s.ListActiveVouches)
	r.Post("/defaults", s.ProcessVoucheeDefault)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request types ---

// CreateProductRequest is the JSON body for product creation.
type CreateProductRequest struct {
	OrganizationID    string          `json:"organization_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	VolatilityIndexID string          `json:"volatility_index_id,omitempty"`
}

// IndexRequest is the JSON body for index creation and updates.
type IndexRequest struct {
	Name       string          `json:"name"`
	IndexValue decimal.Decimal `json:"index_value"`
	IsActive   bool            `json:"is_active"`
}

// RelationRequest is the JSON body for B2B relation creation.
type RelationRequest struct {
	BuyerOrgID         string          `json:"buyer_org_id"`
	SupplierOrgID      string          `json:"supplier_org_id"`
	TierLevel          model.TierLevel `json:"tier_level"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// LockRequest is the JSON body for POST /locks.
type LockRequest struct {
	ProductID         string `json:"product_id"`
	OrganizationID    string `json:"organization_id"`
	VolatilityIndexID string `json:"volatility_index_id,omitempty"`
	DurationDays      int    `json:"duration_days"`
}

// EventRequest is the JSON body for POST /events.
type EventRequest struct {
	OrganizationID string          `json:"organization_id"`
	EventType      model.EventType `json:"event_type"`
	ImpactValue    decimal.Decimal `json:"impact_value"`
	Description    string          `json:"description"`
}

// VouchRequest is the JSON body for POST /vouches.
type VouchRequest struct {
	VoucherOrgID        string          `json:"voucher_org_id"`
	VoucheeOrgID        string          `json:"vouchee_org_id"`
	VouchAmount         decimal.Decimal `json:"vouch_amount"`
	RiskSharePercentage decimal.Decimal `json:"risk_share_percentage"`
	ExpirationDays      int             `json:"expiration_days,omitempty"`
}

// DefaultRequest is the JSON body for POST /defaults.
type DefaultRequest struct {
	VoucheeOrgID  string          `json:"vouchee_org_id"`
	DefaultAmount decimal.Decimal `json:"default_amount"`
}

// --- Handlers ---

// CreateProduct handles POST /api/v1/products.
func (s *Service) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == "" || req.Name == "" {
		writeError(w, "organization_id and name are required", http.StatusBadRequest)
		return
	}

	product := &model.Product{
		ID:                uuid.New().String(),
		OrganizationID:    req.OrganizationID,
		Name:              req.Name,
		Price:             req.Price,
		CostPrice:         req.CostPrice,
		VolatilityIndexID: req.VolatilityIndexID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateProduct(r.Context(), product); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

// GetProduct handles GET /api/v1/products/{productID}.
func (s *Service) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if product == nil {
		writeFault(w, fault.NotFound("product", productID))
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// ComputePrice handles GET /api/v1/products/{productID}/price.
// Query params: organization_id (required), volatility_index_id (optional).
func (s *Service) ComputePrice(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	orgID := r.URL.Query().Get("organization_id")
	indexID := r.URL.Query().Get("volatility_index_id")
	if orgID == "" {
		writeError(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	calc, err := s.calc.ComputePrice(r.Context(), productID, orgID, indexID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

// CreateVolatilityIndex handles POST /api/v1/indices.
func (s *Service) CreateVolatilityIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	index := &model.VolatilityIndex{
		ID:            uuid.New().String(),
		Name:          req.Name,
		IndexValue:    req.IndexValue,
		EffectiveFrom: time.Now().UTC(),
		IsActive:      req.IsActive,
	}
	if err := s.store.CreateVolatilityIndex(r.Context(), index); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, index)
}

// UpdateVolatilityIndex handles PUT /api/v1/indices/{indexID}. After the
// update every cached calculation under this index is evicted — a stale
// multiplier must never be served — and clients are notified via the hub.
func (s *Service) UpdateVolatilityIndex(w http.ResponseWriter, r *http.Request) {
	indexID := chi.URLParam(r, "indexID")

	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	index, err := s.store.GetVolatilityIndex(ctx, indexID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if index == nil {
		writeFault(w, fault.NotFound("volatility index", indexID))
		return
	}

	index.IndexValue = req.IndexValue
	index.IsActive = req.IsActive
	index.EffectiveFrom = time.Now().UTC()
	if err := s.store.UpdateVolatilityIndexValue(ctx, index); err != nil {
		writeFault(w, err)
		return
	}

	if err := s.cache.InvalidateForIndex(ctx, indexID); err != nil {
		writeFault(w, fault.Transient("cache invalidation for index failed", err))
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(HubMessage{
			Type:              EventIndexInvalidated,
			VolatilityIndexID: indexID,
			IndexValue:        index.IndexValue.String(),
		})
	}
	writeJSON(w, http.StatusOK, index)
}

// CreateB2BRelation handles POST /api/v1/relations.
func (s *Service) CreateB2BRelation(w http.ResponseWriter, r *http.Request) {
	var req RelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.TierLevel.Valid() {
		writeError(w, "tier_level must be BRONZE, SILVER, or GOLD", http.StatusBadRequest)
		return
	}

	relation := &model.B2BRelation{
		ID:                 uuid.New().String(),
		BuyerOrgID:         req.BuyerOrgID,
		SupplierOrgID:      req.SupplierOrgID,
		TierLevel:          req.TierLevel,
		DiscountPercentage: req.DiscountPercentage,
		IsActive:           true,
	}
	if err := s.store.CreateB2BRelation(r.Context(), relation); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, relation)
}

// LockPrice handles POST /api/v1/locks.
func (s *Service) LockPrice(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" || req.OrganizationID == "" {
		writeError(w, "product_id and organization_id are required", http.StatusBadRequest)
		return
	}

	lock, err := s.locks.LockPrice(r.Context(), req.ProductID, req.OrganizationID, req.VolatilityIndexID, req.DurationDays)
	if err != nil {
		writeFault(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(HubMessage{
			Type:              EventPriceLocked,
			ProductID:         lock.ProductID,
			OrganizationID:    lock.OrganizationID,
			VolatilityIndexID: lock.VolatilityIndexID,
			LockedPrice:       lock.LockedPrice.String(),
			ExpiresAt:         lock.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusCreated, lock)
}

// GetActivePriceLock handles GET /api/v1/locks.
// Query params: product_id, organization_id.
func (s *Service) GetActivePriceLock(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	orgID := r.URL.Query().Get("organization_id")
	if productID == "" || orgID == "" {
		writeError(w, "product_id and organization_id are required", http.StatusBadRequest)
		return
	}

	lock, err := s.locks.GetActivePriceLock(r.Context(), productID, orgID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if lock == nil {
		writeFault(w, fault.NotFound("active price lock", productID+"/"+orgID))
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

// ProcessFinancialEvent handles POST /api/v1/events.
func (s *Service) ProcessFinancialEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == "" {
		writeError(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.risk.ProcessFinancialEvent(r.Context(), req.OrganizationID, req.EventType, req.ImpactValue, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// EnsureProfile handles POST /api/v1/profiles/{organizationID}.
func (s *Service) EnsureProfile(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "organizationID")

	profile, err := s.risk.EnsureProfile(r.Context(), orgID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetProfile handles GET /api/v1/profiles/{organizationID}.
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "organizationID")

	profile, events, err := s.risk.GetProfile(r.Context(), orgID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if events == nil {
		events = []model.FinancialEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile": profile,
		"events":  events,
	})
}

// VouchForOrganization handles POST /api/v1/vouches.
func (s *Service) VouchForOrganization(w http.ResponseWriter, r *http.Request) {
	var req VouchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.VoucherOrgID == "" || req.VoucheeOrgID == "" {
		writeError(w, "voucher_org_id and vouchee_org_id are required", http.StatusBadRequest)
		return
	}

	vouch, err := s.vouch.VouchForOrganization(r.Context(), req.VoucherOrgID, req.VoucheeOrgID, req.VouchAmount, req.RiskSharePercentage, req.ExpirationDays)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vouch)
}

// ListActiveVouches handles GET /api/v1/vouches.
// Query params: organization_id — the vouchee whose backing vouches to list.
func (s *Service) ListActiveVouches(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	profile, err := s.store.GetRiskProfile(ctx, orgID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if profile == nil {
		writeFault(w, fault.NotFound("risk profile", orgID))
		return
	}

	vouches, err := s.store.ListActiveVouchesForVouchee(ctx, profile.ID, time.Now().UTC())
	if err != nil {
		writeFault(w, err)
		return
	}
	if vouches == nil {
		vouches = []model.ReputationVouch{}
	}
	writeJSON(w, http.StatusOK, vouches)
}

// ProcessVoucheeDefault handles POST /api/v1/defaults.
func (s *Service) ProcessVoucheeDefault(w http.ResponseWriter, r *http.Request) {
	var req DefaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.VoucheeOrgID == "" {
		writeError(w, "vouchee_org_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.vouch.ProcessVoucheeDefault(r.Context(), req.VoucheeOrgID, req.DefaultAmount)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeFault maps a typed fault to an HTTP status, carrying its structured
// detail so callers can see why without internal state leaking.
func writeFault(w http.ResponseWriter, err error) {
	kind, ok := fault.KindOf(err)
	if !ok {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindBusinessRule, fault.KindInsufficientCredit:
		status = http.StatusConflict
	case fault.KindTransient:
		status = http.StatusServiceUnavailable
	case fault.KindInvariantBreach:
		status = http.StatusInternalServerError
	}

	var f *fault.Fault
	errors.As(err, &f)

	body := map[string]any{
		"error": f.Msg,
		"kind":  kind.String(),
	}
	if len(f.Detail) > 0 {
		body["detail"] = f.Detail
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
