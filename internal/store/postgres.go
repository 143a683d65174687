package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sovmarket/financial-core/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve pooled and transactional execution.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC and round-tripped through
// ::TEXT + decimal.NewFromString for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when tx-bound
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// InTx begins a transaction at the requested isolation level, binds a store
// to it, and runs fn. Any error rolls back fully; the transaction-level
// timeout cancels long-running work the same way.
func (s *PostgresStore) InTx(ctx context.Context, opts TxOptions, fn func(tx Store) error) error {
	if s.pool == nil {
		return errors.New("store: nested transactions are not supported")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	iso := pgx.ReadCommitted
	if opts.Isolation == Serializable {
		iso = pgx.Serializable
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &PostgresStore{q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// --- Products ---

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO products (id, organization_id, name, price, cost_price, volatility_index_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, NULLIF($6, ''), $7)`,
		p.ID, p.OrganizationID, p.Name,
		p.Price.String(), p.CostPrice.String(),
		p.VolatilityIndexID, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	var price, costPrice string

	err := s.q.QueryRow(ctx,
		`SELECT id, organization_id, name,
		        price::TEXT, cost_price::TEXT,
		        COALESCE(volatility_index_id, ''), created_at
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.OrganizationID, &p.Name,
			&price, &costPrice,
			&p.VolatilityIndexID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}

	p.Price, _ = decimal.NewFromString(price)
	p.CostPrice, _ = decimal.NewFromString(costPrice)
	return &p, nil
}

// --- Volatility indices ---

func (s *PostgresStore) CreateVolatilityIndex(ctx context.Context, v *model.VolatilityIndex) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO volatility_indices (id, name, index_value, effective_from, is_active)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		v.ID, v.Name, v.IndexValue.String(), v.EffectiveFrom, v.IsActive,
	)
	return err
}

func (s *PostgresStore) GetVolatilityIndex(ctx context.Context, id string) (*model.VolatilityIndex, error) {
	var v model.VolatilityIndex
	var value string

	err := s.q.QueryRow(ctx,
		`SELECT id, name, index_value::TEXT, effective_from, is_active
		 FROM volatility_indices WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &value, &v.EffectiveFrom, &v.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get volatility index %s: %w", id, err)
	}

	v.IndexValue, _ = decimal.NewFromString(value)
	return &v, nil
}

func (s *PostgresStore) UpdateVolatilityIndexValue(ctx context.Context, v *model.VolatilityIndex) error {
	_, err := s.q.Exec(ctx,
		`UPDATE volatility_indices
		 SET index_value = $2::NUMERIC, effective_from = $3, is_active = $4
		 WHERE id = $1`,
		v.ID, v.IndexValue.String(), v.EffectiveFrom, v.IsActive,
	)
	return err
}

// --- B2B relations ---

func (s *PostgresStore) CreateB2BRelation(ctx context.Context, r *model.B2BRelation) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO b2b_relations (id, buyer_org_id, supplier_org_id, tier_level, discount_percentage, is_active)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		r.ID, r.BuyerOrgID, r.SupplierOrgID, string(r.TierLevel),
		r.DiscountPercentage.String(), r.IsActive,
	)
	return err
}

func (s *PostgresStore) FirstActiveRelationForBuyer(ctx context.Context, buyerOrgID string) (*model.B2BRelation, error) {
	var r model.B2BRelation
	var tier, discount string

	err := s.q.QueryRow(ctx,
		`SELECT id, buyer_org_id, supplier_org_id, tier_level, discount_percentage::TEXT, is_active
		 FROM b2b_relations
		 WHERE buyer_org_id = $1 AND is_active = true
		 ORDER BY id
		 LIMIT 1`, buyerOrgID).
		Scan(&r.ID, &r.BuyerOrgID, &r.SupplierOrgID, &tier, &discount, &r.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first active relation for %s: %w", buyerOrgID, err)
	}

	r.TierLevel = model.TierLevel(tier)
	r.DiscountPercentage, _ = decimal.NewFromString(discount)
	return &r, nil
}

// --- Price locks ---

func (s *PostgresStore) DeactivatePriceLocks(ctx context.Context, productID, organizationID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE price_locks SET is_active = false
		 WHERE product_id = $1 AND organization_id = $2 AND is_active = true`,
		productID, organizationID,
	)
	return err
}

func (s *PostgresStore) InsertPriceLock(ctx context.Context, l *model.PriceLock) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO price_locks
		   (id, product_id, organization_id, volatility_index_id,
		    base_price, index_multiplier, tier_discount, locked_price,
		    is_active, locked_at, expires_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''),
		         $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9, $10, $11)`,
		l.ID, l.ProductID, l.OrganizationID, l.VolatilityIndexID,
		l.BasePrice.String(), l.IndexMultiplier.String(),
		l.TierDiscount.String(), l.LockedPrice.String(),
		l.IsActive, l.LockedAt, l.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetActivePriceLock(ctx context.Context, productID, organizationID string, now time.Time) (*model.PriceLock, error) {
	var l model.PriceLock
	var basePrice, indexMult, tierDiscount, lockedPrice string

	err := s.q.QueryRow(ctx,
		`SELECT id, product_id, organization_id, COALESCE(volatility_index_id, ''),
		        base_price::TEXT, index_multiplier::TEXT, tier_discount::TEXT, locked_price::TEXT,
		        is_active, locked_at, expires_at
		 FROM price_locks
		 WHERE product_id = $1 AND organization_id = $2
		   AND is_active = true AND expires_at > $3
		 ORDER BY locked_at DESC
		 LIMIT 1`, productID, organizationID, now).
		Scan(&l.ID, &l.ProductID, &l.OrganizationID, &l.VolatilityIndexID,
			&basePrice, &indexMult, &tierDiscount, &lockedPrice,
			&l.IsActive, &l.LockedAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active price lock: %w", err)
	}

	l.BasePrice, _ = decimal.NewFromString(basePrice)
	l.IndexMultiplier, _ = decimal.NewFromString(indexMult)
	l.TierDiscount, _ = decimal.NewFromString(tierDiscount)
	l.LockedPrice, _ = decimal.NewFromString(lockedPrice)
	return &l, nil
}

func (s *PostgresStore) CountActiveLocks(ctx context.Context, productID, organizationID string) (int, error) {
	var count int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM price_locks
		 WHERE product_id = $1 AND organization_id = $2 AND is_active = true`,
		productID, organizationID).
		Scan(&count)
	return count, err
}

// --- Risk profiles ---

const riskProfileColumns = `id, organization_id,
	score::TEXT, base_credit_limit::TEXT, credit_multiplier::TEXT,
	current_credit_limit::TEXT, credit_used::TEXT, decay_lambda::TEXT,
	created_at, updated_at`

func (s *PostgresStore) scanRiskProfile(row pgx.Row) (*model.RiskProfile, error) {
	var p model.RiskProfile
	var score, baseLimit, multiplier, currentLimit, used, lambda string

	err := row.Scan(&p.ID, &p.OrganizationID,
		&score, &baseLimit, &multiplier, &currentLimit, &used, &lambda,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan risk profile: %w", err)
	}

	p.Score, _ = decimal.NewFromString(score)
	p.BaseCreditLimit, _ = decimal.NewFromString(baseLimit)
	p.CreditMultiplier, _ = decimal.NewFromString(multiplier)
	p.CurrentCreditLimit, _ = decimal.NewFromString(currentLimit)
	p.CreditUsed, _ = decimal.NewFromString(used)
	p.DecayLambda, _ = decimal.NewFromString(lambda)
	return &p, nil
}

func (s *PostgresStore) GetRiskProfile(ctx context.Context, organizationID string) (*model.RiskProfile, error) {
	return s.scanRiskProfile(s.q.QueryRow(ctx,
		`SELECT `+riskProfileColumns+` FROM risk_profiles WHERE organization_id = $1`,
		organizationID))
}

func (s *PostgresStore) GetRiskProfileByID(ctx context.Context, profileID string) (*model.RiskProfile, error) {
	return s.scanRiskProfile(s.q.QueryRow(ctx,
		`SELECT `+riskProfileColumns+` FROM risk_profiles WHERE id = $1`,
		profileID))
}

func (s *PostgresStore) InsertRiskProfile(ctx context.Context, p *model.RiskProfile) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO risk_profiles
		   (id, organization_id, score, base_credit_limit, credit_multiplier,
		    current_credit_limit, credit_used, decay_lambda, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		p.ID, p.OrganizationID,
		p.Score.String(), p.BaseCreditLimit.String(), p.CreditMultiplier.String(),
		p.CurrentCreditLimit.String(), p.CreditUsed.String(), p.DecayLambda.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateRiskProfile(ctx context.Context, p *model.RiskProfile) error {
	_, err := s.q.Exec(ctx,
		`UPDATE risk_profiles
		 SET score = $2::NUMERIC, base_credit_limit = $3::NUMERIC,
		     credit_multiplier = $4::NUMERIC, current_credit_limit = $5::NUMERIC,
		     credit_used = $6::NUMERIC, decay_lambda = $7::NUMERIC, updated_at = $8
		 WHERE id = $1`,
		p.ID,
		p.Score.String(), p.BaseCreditLimit.String(),
		p.CreditMultiplier.String(), p.CurrentCreditLimit.String(),
		p.CreditUsed.String(), p.DecayLambda.String(), p.UpdatedAt,
	)
	return err
}

// --- Financial events ---

func (s *PostgresStore) InsertFinancialEvent(ctx context.Context, e *model.FinancialEvent) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO financial_events
		   (id, profile_id, event_type, impact_value, description, occurred_at, processed, processed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		e.ID, e.ProfileID, string(e.EventType),
		e.ImpactValue.String(), e.Description, e.OccurredAt,
		e.Processed, e.ProcessedAt,
	)
	return err
}

const financialEventColumns = `id, profile_id, event_type, impact_value::TEXT,
	description, occurred_at, processed, processed_at`

func scanFinancialEvents(rows pgx.Rows) ([]model.FinancialEvent, error) {
	var events []model.FinancialEvent
	for rows.Next() {
		var e model.FinancialEvent
		var eventType, impact string

		if err := rows.Scan(&e.ID, &e.ProfileID, &eventType, &impact,
			&e.Description, &e.OccurredAt, &e.Processed, &e.ProcessedAt); err != nil {
			return nil, err
		}

		e.EventType = model.EventType(eventType)
		e.ImpactValue, _ = decimal.NewFromString(impact)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListUnprocessedEvents(ctx context.Context, profileID string) ([]model.FinancialEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+financialEventColumns+`
		 FROM financial_events
		 WHERE profile_id = $1 AND processed = false
		 ORDER BY occurred_at`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFinancialEvents(rows)
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE financial_events SET processed = true, processed_at = $2
		 WHERE id = $1 AND processed = false`,
		eventID, at,
	)
	return err
}

func (s *PostgresStore) ListEventsByProfile(ctx context.Context, profileID string) ([]model.FinancialEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+financialEventColumns+`
		 FROM financial_events
		 WHERE profile_id = $1
		 ORDER BY occurred_at`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFinancialEvents(rows)
}

// --- Reputation vouches ---

func (s *PostgresStore) InsertVouch(ctx context.Context, v *model.ReputationVouch) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO reputation_vouches
		   (id, voucher_profile_id, vouchee_profile_id, vouch_amount,
		    risk_share_percentage, is_active, is_defaulted, created_at, expires_at, defaulted_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10)`,
		v.ID, v.VoucherProfileID, v.VoucheeProfileID,
		v.VouchAmount.String(), v.RiskSharePercentage.String(),
		v.IsActive, v.IsDefaulted, v.CreatedAt, v.ExpiresAt, v.DefaultedAt,
	)
	return err
}

func (s *PostgresStore) ListActiveVouchesForVouchee(ctx context.Context, voucheeProfileID string, now time.Time) ([]model.ReputationVouch, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, voucher_profile_id, vouchee_profile_id,
		        vouch_amount::TEXT, risk_share_percentage::TEXT,
		        is_active, is_defaulted, created_at, expires_at, defaulted_at
		 FROM reputation_vouches
		 WHERE vouchee_profile_id = $1
		   AND is_active = true AND is_defaulted = false
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at`, voucheeProfileID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouches []model.ReputationVouch
	for rows.Next() {
		var v model.ReputationVouch
		var amount, share string

		if err := rows.Scan(&v.ID, &v.VoucherProfileID, &v.VoucheeProfileID,
			&amount, &share,
			&v.IsActive, &v.IsDefaulted, &v.CreatedAt, &v.ExpiresAt, &v.DefaultedAt); err != nil {
			return nil, err
		}

		v.VouchAmount, _ = decimal.NewFromString(amount)
		v.RiskSharePercentage, _ = decimal.NewFromString(share)
		vouches = append(vouches, v)
	}
	return vouches, rows.Err()
}

func (s *PostgresStore) MarkVouchDefaulted(ctx context.Context, vouchID string, at time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE reputation_vouches
		 SET is_active = false, is_defaulted = true, defaulted_at = $2
		 WHERE id = $1 AND is_defaulted = false`,
		vouchID, at,
	)
	return err
}
