// internal/oracle/static.go

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solver-engine/internal/address"
	"github.com/rovshanmuradov/solver-engine/internal/condition"
)

// anyChain matches readings registered without a chain id.
const anyChain = "*"

func chainKey(chainID *big.Int) string {
	if chainID == nil {
		return anyChain
	}
	return chainID.String()
}

// StaticPrices serves prices from an in-memory table that can be changed at runtime.
type StaticPrices struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticPrices() *StaticPrices {
	return &StaticPrices{prices: make(map[string]decimal.Decimal)}
}

// Set records price for pair on chainID. A nil chainID serves every chain.
func (s *StaticPrices) Set(pair string, chainID *big.Int, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[priceKey(pair, chainKey(chainID))] = price
}

func (s *StaticPrices) ObservePrice(ctx context.Context, pair string, chainID *big.Int) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prices[priceKey(pair, chainKey(chainID))]; ok {
		return p, nil
	}
	if p, ok := s.prices[priceKey(pair, anyChain)]; ok {
		return p, nil
	}
	return decimal.Decimal{}, fmt.Errorf("price %s: %w", pair, ErrUnavailable)
}

func priceKey(pair, chain string) string {
	return strings.ToUpper(pair) + "@" + chain
}

// StaticBalances serves balances from an in-memory table.
type StaticBalances struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
}

func NewStaticBalances() *StaticBalances {
	return &StaticBalances{balances: make(map[string]*big.Int)}
}

func (s *StaticBalances) Set(token string, chainID *big.Int, owner string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(token, chainKey(chainID), owner)] = new(big.Int).Set(amount)
}

func (s *StaticBalances) ObserveBalance(ctx context.Context, token string, chainID *big.Int, owner string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[balanceKey(token, chainKey(chainID), owner)]
	if !ok {
		return nil, fmt.Errorf("balance %s of %s: %w", token, owner, ErrUnavailable)
	}
	return new(big.Int).Set(b), nil
}

func balanceKey(token, chain, owner string) string {
	return address.Key(token) + "@" + chain + "/" + address.Key(owner)
}

// StaticContracts serves contract call results from an in-memory table.
type StaticContracts struct {
	mu      sync.RWMutex
	results map[string]condition.Result
}

func NewStaticContracts() *StaticContracts {
	return &StaticContracts{results: make(map[string]condition.Result)}
}

func (s *StaticContracts) Set(contract, function string, chainID *big.Int, result condition.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[callKey(contract, function, chainKey(chainID))] = result
}

func (s *StaticContracts) InvokeCustom(ctx context.Context, contract, function string, chainID *big.Int) (condition.Result, error) {
	if err := ctx.Err(); err != nil {
		return condition.Result{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[callKey(contract, function, chainKey(chainID))]
	if !ok {
		return condition.Result{}, fmt.Errorf("call %s.%s: %w", contract, function, ErrUnavailable)
	}
	return r, nil
}

func callKey(contract, function, chain string) string {
	return address.Key(contract) + "." + function + "@" + chain
}
