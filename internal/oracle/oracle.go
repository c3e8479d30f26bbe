// internal/oracle/oracle.go

// Package oracle defines where condition observations come from and the
// Observer that turns a condition into a fresh reading.
package oracle

import (
	"context"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
)

// ErrUnavailable is returned when an oracle cannot produce a reading.
// A condition whose oracle fails counts as not yet satisfied.
var ErrUnavailable = errors.New("oracle unavailable")

// PriceOracle quotes token pairs.
type PriceOracle interface {
	ObservePrice(ctx context.Context, pair string, chainID *big.Int) (decimal.Decimal, error)
}

// BalanceReader reads token balances in base units.
type BalanceReader interface {
	ObserveBalance(ctx context.Context, token string, chainID *big.Int, address string) (*big.Int, error)
}

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	InvokeCustom(ctx context.Context, contract, function string, chainID *big.Int) (condition.Result, error)
}
