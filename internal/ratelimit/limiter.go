// Package ratelimit provides per-scope request budgeting over fixed
// windows. Scopes are isolated (keyed by provider and operation) so
// one endpoint's exhaustion never blocks another.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

// Rule is the budget for one scope.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config holds limiter settings.
type Config struct {
	// Default applies to scopes without an explicit rule.
	Default Rule

	// Rules maps a scope (e.g. "paapi:search") to its budget.
	Rules map[string]Rule
}

// Limiter enforces fixed-window rate limits backed by an atomic
// counter store. Store failures fail open: a limiter outage must never
// take down provider traffic.
type Limiter struct {
	store  domain.CounterStore
	cfg    Config
	logger *zap.Logger
}

// New creates a Limiter.
func New(store domain.CounterStore, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Default.Limit <= 0 {
		cfg.Default = Rule{Limit: 10, Window: time.Minute}
	}

	return &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Allow reports whether a new request fits the scope's current window.
// A scope with no prior record is always permitted.
func (l *Limiter) Allow(ctx context.Context, scope string) bool {
	count, _, err := l.store.Count(ctx, scope)
	if err != nil {
		l.logger.Warn("rate limit read failed, allowing request",
			zap.String("scope", scope),
			zap.Error(err),
		)

		return true
	}

	return count < int64(l.rule(scope).Limit)
}

// Record counts an accepted request against the scope, starting a new
// window on the first request.
func (l *Limiter) Record(ctx context.Context, scope string) {
	if _, err := l.store.Incr(ctx, scope, l.rule(scope).Window); err != nil {
		l.logger.Warn("rate limit increment failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
	}
}

// ResetHint returns the time until the scope's window resets, for the
// quota error surfaced when a request is rejected locally.
func (l *Limiter) ResetHint(ctx context.Context, scope string) time.Duration {
	_, remaining, err := l.store.Count(ctx, scope)
	if err != nil || remaining <= 0 {
		return l.rule(scope).Window
	}

	return remaining
}

// Usage returns the consumed count, the budget and the time until the
// window resets for a scope. Feeds quota reporting.
func (l *Limiter) Usage(ctx context.Context, scope string) (used int64, limit int, reset time.Duration) {
	rule := l.rule(scope)

	count, remaining, err := l.store.Count(ctx, scope)
	if err != nil {
		return 0, rule.Limit, rule.Window
	}
	if remaining <= 0 {
		remaining = rule.Window
	}

	return count, rule.Limit, remaining
}

// Rule returns the effective budget for a scope.
func (l *Limiter) Rule(scope string) Rule {
	return l.rule(scope)
}

func (l *Limiter) rule(scope string) Rule {
	if r, ok := l.cfg.Rules[scope]; ok && r.Limit > 0 && r.Window > 0 {
		return r
	}

	return l.cfg.Default
}

// Scope builds the canonical scope name for a provider operation.
func Scope(provider string, op domain.Operation) string {
	return provider + ":" + string(op)
}
