package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig tunes the breaker and the submission rate limit.
type GuardConfig struct {
	BreakerInterval      time.Duration `yaml:"breaker_interval" default:"60s"`
	BreakerTimeout       time.Duration `yaml:"breaker_timeout" default:"30s"`
	ConsecutiveFailures  uint32        `yaml:"consecutive_failures" default:"3"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" default:"0.5"`
	MinRequests          uint32        `yaml:"min_requests" default:"10"`
	SubmitsPerSecond     float64       `yaml:"submits_per_second" default:"2"`
	SubmitBurst          int           `yaml:"submit_burst" default:"4"`
}

// DefaultGuardConfig returns the guard settings used in production.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		BreakerInterval:      60 * time.Second,
		BreakerTimeout:       30 * time.Second,
		ConsecutiveFailures:  3,
		FailureRateThreshold: 0.5,
		MinRequests:          10,
		SubmitsPerSecond:     2,
		SubmitBurst:          4,
	}
}

// Guarded wraps another broker with a circuit breaker and a token-bucket
// rate limit on submissions. When the breaker is open, Healthy reports
// false so the emergency gate can treat execution as disconnected.
type Guarded struct {
	inner   Broker
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuarded wraps inner with the given guard settings.
func NewGuarded(inner Broker, config GuardConfig) *Guarded {
	st := cb.Settings{Name: "broker"}
	st.Interval = config.BreakerInterval
	st.Timeout = config.BreakerTimeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= config.ConsecutiveFailures {
			return true
		}
		if counts.Requests < config.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > config.FailureRateThreshold
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().
			Str("component", "broker").
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("breaker state change")
	}
	return &Guarded{
		inner:   inner,
		breaker: cb.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(config.SubmitsPerSecond), config.SubmitBurst),
	}
}

// Submit waits for a rate token, then runs the inner submission under the
// breaker. An open breaker surfaces as ErrBrokerUnavailable.
func (g *Guarded) Submit(ctx context.Context, intent Intent) (*Fill, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := g.breaker.Execute(func() (any, error) {
		return g.inner.Submit(ctx, intent)
	})
	if err != nil {
		if err == cb.ErrOpenState || err == cb.ErrTooManyRequests {
			return nil, ErrBrokerUnavailable
		}
		return nil, err
	}
	return res.(*Fill), nil
}

// Healthy reports whether the execution path is accepting orders.
func (g *Guarded) Healthy() bool {
	return g.breaker.State() != cb.StateOpen
}
