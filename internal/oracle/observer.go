// internal/oracle/observer.go

package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
)

// Set bundles the collaborators that produce observations. Any of them may be
// nil, in which case conditions of that type are never satisfied.
type Set struct {
	Prices    PriceOracle
	Balances  BalanceReader
	Contracts ContractCaller
	Clock     clock.Clock
}

// Observer fetches a fresh observation for every check. Nothing is cached
// between calls.
type Observer struct {
	set     Set
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewObserver(set Set, logger *zap.Logger, m *metrics.Metrics) *Observer {
	if set.Clock == nil {
		set.Clock = clock.New()
	}
	return &Observer{
		set:     set,
		logger:  logger.Named("observer"),
		metrics: m,
	}
}

// Observe reads the current value a condition is judged against. owner is the
// account whose balance a balance condition inspects.
func (o *Observer) Observe(ctx context.Context, c condition.Condition, owner string) (condition.Observation, error) {
	switch c.Type {
	case condition.TypePrice:
		if o.set.Prices == nil || c.Price == nil {
			return condition.Observation{}, fmt.Errorf("no price oracle: %w", ErrUnavailable)
		}
		p, err := o.set.Prices.ObservePrice(ctx, c.Price.TokenPair, c.Price.ChainID)
		if err != nil {
			return condition.Observation{}, err
		}
		return condition.PriceObservation(p), nil

	case condition.TypeTime:
		return condition.TimeObservation(o.set.Clock.Now()), nil

	case condition.TypeBalance:
		if o.set.Balances == nil || c.Balance == nil {
			return condition.Observation{}, fmt.Errorf("no balance reader: %w", ErrUnavailable)
		}
		b, err := o.set.Balances.ObserveBalance(ctx, c.Balance.Token, c.Balance.ChainID, owner)
		if err != nil {
			return condition.Observation{}, err
		}
		return condition.BalanceObservation(b), nil

	case condition.TypeCustom:
		if o.set.Contracts == nil || c.Custom == nil {
			return condition.Observation{}, fmt.Errorf("no contract caller: %w", ErrUnavailable)
		}
		r, err := o.set.Contracts.InvokeCustom(ctx, c.Custom.Contract, c.Custom.Function, c.Custom.ChainID)
		if err != nil {
			return condition.Observation{}, err
		}
		return condition.CustomObservation(r), nil
	}

	return condition.Observation{}, errs.Invalid("type", "unknown condition type %q", c.Type)
}

// Satisfied observes and evaluates one condition. A failed observation is
// reported as not satisfied together with the cause.
func (o *Observer) Satisfied(ctx context.Context, c condition.Condition, owner string) (bool, error) {
	observed, err := o.Observe(ctx, c, owner)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrUnavailable) {
			result = "unavailable"
		}
		o.metrics.ConditionChecked(string(c.Type), result)
		return false, err
	}

	ok, err := condition.Evaluate(c, observed)
	if err != nil {
		o.metrics.ConditionChecked(string(c.Type), "invalid")
		return false, err
	}

	if ok {
		o.metrics.ConditionChecked(string(c.Type), "met")
	} else {
		o.metrics.ConditionChecked(string(c.Type), "unmet")
	}
	return ok, nil
}

// AllMet reports whether every condition holds right now. It stops at the
// first condition that does not hold; the returned error, if any, explains why
// that condition could not be checked.
func (o *Observer) AllMet(ctx context.Context, conditions []condition.Condition, owner string) (bool, error) {
	if len(conditions) == 0 {
		return false, errs.Invalid("conditions", "at least one condition is required")
	}
	for i, c := range conditions {
		ok, err := o.Satisfied(ctx, c, owner)
		if err != nil {
			o.logger.Debug("Condition could not be checked",
				zap.Int("index", i),
				zap.String("type", string(c.Type)),
				zap.Error(err))
			return false, fmt.Errorf("condition %d (%s): %w", i, c.Type, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
