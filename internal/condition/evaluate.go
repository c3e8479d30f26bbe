// internal/condition/evaluate.go

package condition

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

// Observation is a single fresh reading for one condition type.
type Observation struct {
	kind    Type
	price   decimal.Decimal
	at      int64
	balance *big.Int
	result  Result
}

func PriceObservation(p decimal.Decimal) Observation {
	return Observation{kind: TypePrice, price: p}
}

// TimeObservation records the clock at millisecond resolution.
func TimeObservation(now time.Time) Observation {
	return Observation{kind: TypeTime, at: now.UnixMilli()}
}

func BalanceObservation(b *big.Int) Observation {
	return Observation{kind: TypeBalance, balance: b}
}

func CustomObservation(r Result) Observation {
	return Observation{kind: TypeCustom, result: r}
}

func (o Observation) Type() Type {
	return o.kind
}

// Evaluate reports whether observed satisfies c. It is pure: the same inputs
// always give the same answer. Malformed conditions and mismatched
// observations yield a ValidationError.
func Evaluate(c Condition, observed Observation) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	if observed.kind != c.Type {
		return false, errs.Invalid("observation", "%q observation for %q condition", observed.kind, c.Type)
	}

	switch c.Type {
	case TypePrice:
		p := c.Price
		hi := 0
		if c.Operator == OpBetween {
			hi = observed.price.Cmp(*p.Max)
		}
		return compare(c.Operator, observed.price.Cmp(p.Value), hi), nil

	case TypeTime:
		p := c.Time
		if c.Operator == OpBetween {
			return compare(OpBetween, cmpInt64(observed.at, p.Timestamp), cmpInt64(observed.at, *p.Max)), nil
		}
		return compare(c.Operator, cmpInt64(p.Timestamp, observed.at), 0), nil

	case TypeBalance:
		if observed.balance == nil {
			return false, errs.Invalid("observation", "balance observation without a value")
		}
		p := c.Balance
		hi := 0
		if c.Operator == OpBetween {
			hi = observed.balance.Cmp(p.Max)
		}
		return compare(c.Operator, observed.balance.Cmp(p.Value), hi), nil

	case TypeCustom:
		expected := c.Custom.ExpectedResult
		if c.Operator == OpEQ {
			return observed.result.Equal(expected), nil
		}
		lo, err := observed.result.Compare(expected)
		if err != nil {
			return false, errs.Invalid("observation", "%v", err)
		}
		return compare(c.Operator, lo, 0), nil
	}

	return false, errs.Invalid("type", "unknown condition type %q", c.Type)
}

// compare applies op to the sign of (observed - value) and, for between, the
// sign of (observed - max).
func compare(op Operator, lo, hi int) bool {
	switch op {
	case OpGT:
		return lo > 0
	case OpLT:
		return lo < 0
	case OpEQ:
		return lo == 0
	case OpGTE:
		return lo >= 0
	case OpLTE:
		return lo <= 0
	case OpBetween:
		return lo >= 0 && hi <= 0
	}
	return false
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
