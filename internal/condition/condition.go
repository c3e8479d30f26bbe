// internal/condition/condition.go

// Package condition defines the predicates that gate a deferred transfer and
// the pure evaluator that checks them against an observed value.
package condition

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

// Type is the kind of value a condition observes.
type Type string

const (
	TypePrice   Type = "price"
	TypeTime    Type = "time"
	TypeBalance Type = "balance"
	TypeCustom  Type = "custom"
)

// Operator compares an observed value against the condition's parameters.
type Operator string

const (
	OpGT      Operator = "gt"
	OpLT      Operator = "lt"
	OpEQ      Operator = "eq"
	OpGTE     Operator = "gte"
	OpLTE     Operator = "lte"
	OpBetween Operator = "between"
)

func (op Operator) valid() bool {
	switch op {
	case OpGT, OpLT, OpEQ, OpGTE, OpLTE, OpBetween:
		return true
	}
	return false
}

func (op Operator) ordering() bool {
	return op != OpEQ
}

// PriceParams observes the quoted price of a token pair.
type PriceParams struct {
	TokenPair string
	ChainID   *big.Int
	Value     decimal.Decimal
	Max       *decimal.Decimal
}

// TimeParams compares a unix-millisecond timestamp with the clock. For the
// ordering operators the timestamp is the left operand: "lte" holds once the
// clock has reached Timestamp. "between" holds while Timestamp <= now <= Max.
type TimeParams struct {
	Timestamp int64
	Max       *int64
}

// BalanceParams observes the owner's balance of Token. Value and Max are base units.
type BalanceParams struct {
	Token   string
	ChainID *big.Int
	Value   *big.Int
	Max     *big.Int
}

// CustomParams observes the result of a read-only contract call.
type CustomParams struct {
	Contract       string
	Function       string
	ChainID        *big.Int
	ExpectedResult Result
}

// Condition is one predicate. Exactly one params pointer is set and it matches Type.
type Condition struct {
	Type     Type
	Operator Operator

	Price   *PriceParams
	Time    *TimeParams
	Balance *BalanceParams
	Custom  *CustomParams
}

// Price builds a validated price condition.
func Price(op Operator, p PriceParams) (Condition, error) {
	c := Condition{Type: TypePrice, Operator: op, Price: &p}
	return c, c.Validate()
}

// Time builds a validated time condition.
func Time(op Operator, p TimeParams) (Condition, error) {
	c := Condition{Type: TypeTime, Operator: op, Time: &p}
	return c, c.Validate()
}

// Balance builds a validated balance condition.
func Balance(op Operator, p BalanceParams) (Condition, error) {
	c := Condition{Type: TypeBalance, Operator: op, Balance: &p}
	return c, c.Validate()
}

// Custom builds a validated custom-contract condition.
func Custom(op Operator, p CustomParams) (Condition, error) {
	c := Condition{Type: TypeCustom, Operator: op, Custom: &p}
	return c, c.Validate()
}

// Validate checks the operator, that the params match the type and the
// "between" bounds. It never reorders inverted bounds.
func (c Condition) Validate() error {
	if !c.Operator.valid() {
		return errs.Invalid("operator", "unknown operator %q", c.Operator)
	}

	set := 0
	for _, p := range []bool{c.Price != nil, c.Time != nil, c.Balance != nil, c.Custom != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return errs.Invalid("params", "exactly one parameter set is required, got %d", set)
	}

	switch c.Type {
	case TypePrice:
		if c.Price == nil {
			return errs.Invalid("params", "price condition without price params")
		}
		return c.Price.validate(c.Operator)
	case TypeTime:
		if c.Time == nil {
			return errs.Invalid("params", "time condition without time params")
		}
		return c.Time.validate(c.Operator)
	case TypeBalance:
		if c.Balance == nil {
			return errs.Invalid("params", "balance condition without balance params")
		}
		return c.Balance.validate(c.Operator)
	case TypeCustom:
		if c.Custom == nil {
			return errs.Invalid("params", "custom condition without custom params")
		}
		return c.Custom.validate(c.Operator)
	default:
		return errs.Invalid("type", "unknown condition type %q", c.Type)
	}
}

func (p *PriceParams) validate(op Operator) error {
	if strings.TrimSpace(p.TokenPair) == "" {
		return errs.Invalid("params.tokenPair", "is required")
	}
	if op != OpBetween {
		return nil
	}
	if p.Max == nil {
		return errs.Invalid("params.max", "is required for between")
	}
	if p.Max.LessThan(p.Value) {
		return errs.Invalid("params.max", "%s is below value %s", p.Max, p.Value)
	}
	return nil
}

func (p *TimeParams) validate(op Operator) error {
	if p.Timestamp <= 0 {
		return errs.Invalid("params.timestamp", "must be a positive unix millisecond timestamp")
	}
	if op != OpBetween {
		return nil
	}
	if p.Max == nil {
		return errs.Invalid("params.max", "is required for between")
	}
	if *p.Max < p.Timestamp {
		return errs.Invalid("params.max", "%d is before timestamp %d", *p.Max, p.Timestamp)
	}
	return nil
}

func (p *BalanceParams) validate(op Operator) error {
	if strings.TrimSpace(p.Token) == "" {
		return errs.Invalid("params.token", "is required")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return errs.Invalid("params.chainId", "must be positive")
	}
	if p.Value == nil {
		return errs.Invalid("params.value", "is required")
	}
	if op != OpBetween {
		return nil
	}
	if p.Max == nil {
		return errs.Invalid("params.max", "is required for between")
	}
	if p.Max.Cmp(p.Value) < 0 {
		return errs.Invalid("params.max", "%s is below value %s", p.Max, p.Value)
	}
	return nil
}

func (p *CustomParams) validate(op Operator) error {
	if strings.TrimSpace(p.Contract) == "" {
		return errs.Invalid("params.contract", "is required")
	}
	if strings.TrimSpace(p.Function) == "" {
		return errs.Invalid("params.function", "is required")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return errs.Invalid("params.chainId", "must be positive")
	}
	if p.ExpectedResult.IsZero() {
		return errs.Invalid("params.expectedResult", "is required")
	}
	if op == OpBetween {
		return errs.Invalid("operator", "between is not supported for custom conditions")
	}
	if op.ordering() && !p.ExpectedResult.Numeric() {
		return errs.Invalid("params.expectedResult", "operator %s needs a numeric result", op)
	}
	return nil
}

// Clone returns a deep copy.
func (c Condition) Clone() Condition {
	out := Condition{Type: c.Type, Operator: c.Operator}
	if c.Price != nil {
		p := *c.Price
		p.ChainID = copyInt(p.ChainID)
		if p.Max != nil {
			m := *p.Max
			p.Max = &m
		}
		out.Price = &p
	}
	if c.Time != nil {
		p := *c.Time
		if p.Max != nil {
			m := *p.Max
			p.Max = &m
		}
		out.Time = &p
	}
	if c.Balance != nil {
		p := *c.Balance
		p.ChainID = copyInt(p.ChainID)
		p.Value = copyInt(p.Value)
		p.Max = copyInt(p.Max)
		out.Balance = &p
	}
	if c.Custom != nil {
		p := *c.Custom
		p.ChainID = copyInt(p.ChainID)
		out.Custom = &p
	}
	return out
}

// CloneAll deep-copies a condition list.
func CloneAll(cs []Condition) []Condition {
	if cs == nil {
		return nil
	}
	out := make([]Condition, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
