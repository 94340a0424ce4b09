package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/resilience"
	"spot-hedger/pkg/utils"
)

// ResilientConfig configures a ResilientOracle.
type ResilientConfig struct {
	Timeout time.Duration
	Retry   utils.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

// DefaultResilientConfig returns sensible defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 5 * time.Second,
		Retry:   utils.DefaultRetryConfig(),
		Breaker: resilience.DefaultCircuitBreakerConfig(),
	}
}

// ResilientOracle wraps an oracle with a per-call timeout, retries with
// backoff and a circuit breaker per symbol. Every failure it returns
// matches errors.ErrPriceUnavailable.
type ResilientOracle struct {
	inner    PriceOracle
	cfg      ResilientConfig
	breakers *resilience.Registry
	logger   zerolog.Logger

	// OnFailure, when set, is called once per failed lookup.
	OnFailure func(symbol string, err error)
}

// NewResilientOracle wraps inner.
func NewResilientOracle(inner PriceOracle, cfg ResilientConfig, logger zerolog.Logger) *ResilientOracle {
	logger = logger.With().Str("component", "price_oracle").Logger()
	hook := func(name string, from, to resilience.CircuitState) {
		logger.Warn().
			Str("symbol", name).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Price circuit changed state")
	}

	retry := cfg.Retry
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, errors.ErrCircuitOpen) &&
			!errors.Is(err, errors.ErrPriceUnavailable) &&
			!errors.Is(err, context.Canceled)
	}

	cfg.Retry = retry
	return &ResilientOracle{
		inner:    inner,
		cfg:      cfg,
		breakers: resilience.NewRegistry(cfg.Breaker, hook),
		logger:   logger,
	}
}

// GetPrice fetches a price through the breaker for symbol. A symbol the
// source has no quote for is an answer, not an outage: it is returned
// without retrying, leaves the breaker closed and skips OnFailure.
func (o *ResilientOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	cb := o.breakers.Get(symbol)

	var missing error
	price, err := utils.RetryWithResult(ctx, o.cfg.Retry, func() (float64, error) {
		p, err := resilience.ExecuteWithResult(ctx, cb, func(ctx context.Context) (float64, error) {
			callCtx := ctx
			if o.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
				defer cancel()
			}
			p, err := o.inner.GetPrice(callCtx, symbol)
			if errors.Is(err, errors.ErrPriceUnavailable) &&
				!errors.Is(err, errors.ErrTimeout) && callCtx.Err() == nil {
				missing = err
				return 0, nil
			}
			if err == nil {
				err = validPrice(symbol, p)
			}
			return p, err
		})
		if err == nil && missing != nil {
			return 0, missing
		}
		return p, err
	})
	if missing != nil {
		return 0, missing
	}
	if err != nil {
		if o.OnFailure != nil {
			o.OnFailure(symbol, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(errors.ErrTimeout, err)
		}
		if !errors.Is(err, errors.ErrPriceUnavailable) {
			err = errors.NewLookupError("price", symbol, "oracle failed", errors.Join(errors.ErrPriceUnavailable, err))
		}
		return 0, err
	}
	return price, nil
}

// BreakerStats returns circuit statistics per symbol.
func (o *ResilientOracle) BreakerStats() []resilience.CircuitBreakerStats {
	return o.breakers.Stats()
}
