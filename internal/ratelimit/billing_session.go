package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyBillingSession = "billing:session:%s:%s"

// Endpoints guarded by the billing session limiter.
const (
	EndpointCheckout = "billing_checkout"
	EndpointPortal   = "billing_portal"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// BillingSessionLimiter caps how often one org can open provider-hosted
// sessions. Every session costs a provider API call.
type BillingSessionLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

// NewBillingSessionLimiter returns a disabled limiter when rate limiting is off.
func NewBillingSessionLimiter(p Params) (*BillingSessionLimiter, error) {
	limitCfg := p.Cfg.RateLimit
	log := p.Log.Named("ratelimit.billing_session")
	if !limitCfg.Enabled {
		return &BillingSessionLimiter{log: log}, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.BillingSessionRate <= 0 || limitCfg.BillingSessionBurst <= 0 {
		return nil, errors.New("billing session rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &BillingSessionLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.BillingSessionRate,
		burst:   limitCfg.BillingSessionBurst,
		log:     log,
		metrics: p.ObsMetrics,
	}, nil
}

func (l *BillingSessionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow fails open when Redis is unreachable: billing pages must stay usable.
func (l *BillingSessionLimiter) Allow(ctx context.Context, orgID, endpoint string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyBillingSession, strings.TrimSpace(endpoint), strings.TrimSpace(orgID))
	result, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.String("endpoint", endpoint), zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}
	if !result.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, endpoint)
	}
	return result, nil
}
