package resilience

import (
	"strings"
	"time"
)

// RetryPolicy bounds exponential retry for one family of operations.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// Overrides replaces Retry for operations whose name starts with a key
	// ("ollama.generate"); the longest matching key wins. Zero fields
	// inherit from Retry.
	Overrides map[string]RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2.0,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

func (p RetryPolicy) inherit(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = base.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = base.Multiplier
	}
	return p
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := Config{
		Retry:   c.Retry.inherit(def.Retry),
		Breaker: c.Breaker,
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenMaxCalls == 0 {
		out.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}

	if len(c.Overrides) > 0 {
		out.Overrides = make(map[string]RetryPolicy, len(c.Overrides))
		for prefix, p := range c.Overrides {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				out.Overrides[prefix] = p.inherit(out.Retry)
			}
		}
	}
	return out
}

// retryPolicy resolves the policy for an operation on a normalized config.
func (c Config) retryPolicy(operation string) RetryPolicy {
	best, bestLen := c.Retry, -1
	for prefix, p := range c.Overrides {
		if strings.HasPrefix(operation, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}
