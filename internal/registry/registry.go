// internal/registry/registry.go
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

var ErrRegistryQueryFailed = errors.New("QUERY_EXECUTION_FAILED")

const cacheKeyPrefix = "lenders:eligible:"

type Config struct {
	CacheTTL time.Duration
}

// Registry answers which active lenders accept a funding type.
type Registry struct {
	config *Config
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

// New builds a Registry. redisClient may be nil to disable caching.
func New(config *Config, db *sql.DB, redisClient *redis.Client, log logger.Logger) *Registry {
	return &Registry{
		config: config,
		db:     db,
		redis:  redisClient,
		logger: log.WithFields(map[string]interface{}{"component": "lender-registry"}),
	}
}

func CacheKey(fundingType string) string {
	return cacheKeyPrefix + fundingType
}

// EligibleLenders returns active lenders supporting fundingType ordered by
// priority then name. No match is an empty list, not an error.
func (r *Registry) EligibleLenders(ctx context.Context, fundingType string) ([]models.Lender, error) {
	if lenders, ok := r.fromCache(ctx, fundingType); ok {
		return filterEligible(lenders, fundingType), nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, is_active, funding_categories, priority
		FROM lenders
		WHERE is_active = true AND $1 = ANY(funding_categories)
		ORDER BY priority ASC, name ASC`, fundingType)
	if err != nil {
		return nil, fmt.Errorf("%w: eligible lenders: %v", ErrRegistryQueryFailed, err)
	}
	defer rows.Close()

	lenders := make([]models.Lender, 0)
	for rows.Next() {
		var (
			l          models.Lender
			lenderType string
		)
		if err := rows.Scan(&l.ID, &l.Name, &lenderType, &l.IsActive, pq.Array(&l.FundingCategories), &l.Priority); err != nil {
			return nil, fmt.Errorf("%w: scan lender: %v", ErrRegistryQueryFailed, err)
		}
		l.Type = models.LenderType(lenderType)
		lenders = append(lenders, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate lenders: %v", ErrRegistryQueryFailed, err)
	}

	lenders = filterEligible(lenders, fundingType)
	r.toCache(ctx, fundingType, lenders)

	r.logger.Debug("eligible lenders loaded", map[string]interface{}{
		"fundingType": fundingType,
		"count":       len(lenders),
	})
	return lenders, nil
}

// Invalidate drops cached results for the given funding types.
func (r *Registry) Invalidate(ctx context.Context, fundingTypes ...string) error {
	if r.redis == nil || len(fundingTypes) == 0 {
		return nil
	}
	keys := make([]string, len(fundingTypes))
	for i, ft := range fundingTypes {
		keys[i] = CacheKey(ft)
	}
	return r.redis.Del(ctx, keys...).Err()
}

func (r *Registry) fromCache(ctx context.Context, fundingType string) ([]models.Lender, bool) {
	if r.redis == nil {
		return nil, false
	}

	val, err := r.redis.Get(ctx, CacheKey(fundingType)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("lender cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var lenders []models.Lender
	if err := json.Unmarshal([]byte(val), &lenders); err != nil {
		return nil, false
	}
	return lenders, true
}

func (r *Registry) toCache(ctx context.Context, fundingType string, lenders []models.Lender) {
	if r.redis == nil || r.config.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(lenders)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, CacheKey(fundingType), data, r.config.CacheTTL).Err(); err != nil {
		r.logger.Warn("lender cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// filterEligible re-applies the active/category rule so cached or hand-edited
// rows can never leak an inactive lender.
func filterEligible(lenders []models.Lender, fundingType string) []models.Lender {
	out := make([]models.Lender, 0, len(lenders))
	for _, l := range lenders {
		if l.Supports(fundingType) {
			out = append(out, l)
		}
	}
	return out
}
