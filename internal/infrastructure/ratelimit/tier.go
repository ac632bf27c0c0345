// Package ratelimit implements a distributed sliding-window rate limiter
// protecting the Salesforce API across several time tiers at once. Call
// records are persisted per tier so concurrent worker invocations share one
// quota.
package ratelimit

import (
	"fmt"
	"time"

	sharedConfig "github.com/finrelay/finrelay/internal/shared/config"
)

// Tier is one rate limit window. Tiers are immutable configuration and are
// evaluated in declaration order, strictest (shortest window) first.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (t Tier) String() string {
	return fmt.Sprintf("%s(%d/%s)", t.Name, t.Limit, t.Window)
}

// Salesforce org limits: 15000 REST calls per 24h, throttled to 250/min to
// prevent burst exhaustion and 10/s to avoid connection pool issues.
const (
	DefaultPerSecondLimit = 10
	DefaultPerMinuteLimit = 250
	DefaultPerDayLimit    = 15000
)

// DefaultTiers returns the standard Salesforce API tier set.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "per_second", Limit: DefaultPerSecondLimit, Window: time.Second},
		{Name: "per_minute", Limit: DefaultPerMinuteLimit, Window: time.Minute},
		{Name: "per_day", Limit: DefaultPerDayLimit, Window: 24 * time.Hour},
	}
}

// TiersFromConfig builds the tier set from configuration, falling back to
// the defaults for unset limits.
func TiersFromConfig(cfg *sharedConfig.RateLimitConfig) []Tier {
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = DefaultPerSecondLimit
	}
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = DefaultPerMinuteLimit
	}
	perDay := cfg.PerDay
	if perDay <= 0 {
		perDay = DefaultPerDayLimit
	}
	return []Tier{
		{Name: "per_second", Limit: perSecond, Window: time.Second},
		{Name: "per_minute", Limit: perMinute, Window: time.Minute},
		{Name: "per_day", Limit: perDay, Window: 24 * time.Hour},
	}
}
