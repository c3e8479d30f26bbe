// internal/condition/codec.go

package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

// Wire form:
//
//	{"type":"price","operator":"between","params":{"tokenPair":"ETH/USDC","value":"10","max":"20"}}
//
// Integers and decimals are written as strings and read from strings or numbers.
type wireCondition struct {
	Type     Type            `json:"type"`
	Operator Operator        `json:"operator"`
	Params   json.RawMessage `json:"params"`
}

type wirePrice struct {
	TokenPair string           `json:"tokenPair"`
	ChainID   *types.BigInt    `json:"chainId,omitempty"`
	Value     *decimal.Decimal `json:"value"`
	Max       *decimal.Decimal `json:"max,omitempty"`
}

type wireTime struct {
	Timestamp int64  `json:"timestamp"`
	Max       *int64 `json:"max,omitempty"`
	Before    *int64 `json:"before,omitempty"`
}

type wireBalance struct {
	Token   string        `json:"token"`
	ChainID *types.BigInt `json:"chainId"`
	Value   *types.BigInt `json:"value"`
	Max     *types.BigInt `json:"max,omitempty"`
}

type wireCustom struct {
	Contract       string          `json:"contract"`
	Function       string          `json:"function"`
	ChainID        *types.BigInt   `json:"chainId"`
	ExpectedResult json.RawMessage `json:"expectedResult"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	var params any
	switch {
	case c.Price != nil:
		params = wirePrice{
			TokenPair: c.Price.TokenPair,
			ChainID:   wrapInt(c.Price.ChainID),
			Value:     &c.Price.Value,
			Max:       c.Price.Max,
		}
	case c.Time != nil:
		params = wireTime{Timestamp: c.Time.Timestamp, Max: c.Time.Max}
	case c.Balance != nil:
		params = wireBalance{
			Token:   c.Balance.Token,
			ChainID: wrapInt(c.Balance.ChainID),
			Value:   wrapInt(c.Balance.Value),
			Max:     wrapInt(c.Balance.Max),
		}
	case c.Custom != nil:
		expected, err := json.Marshal(c.Custom.ExpectedResult.String())
		if err != nil {
			return nil, err
		}
		params = wireCustom{
			Contract:       c.Custom.Contract,
			Function:       c.Custom.Function,
			ChainID:        wrapInt(c.Custom.ChainID),
			ExpectedResult: expected,
		}
	default:
		return nil, fmt.Errorf("condition %q has no params", c.Type)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCondition{Type: c.Type, Operator: c.Operator, Params: raw})
}

// UnmarshalJSON decodes and validates a condition. Any failure is a ValidationError.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return errs.Invalid("condition", "malformed: %v", err)
	}
	if len(w.Params) == 0 || bytes.Equal(w.Params, []byte("null")) {
		return errs.Invalid("params", "is required")
	}

	out := Condition{Type: w.Type, Operator: w.Operator}
	switch w.Type {
	case TypePrice:
		var p wirePrice
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return errs.Invalid("params", "malformed price params: %v", err)
		}
		if p.Value == nil {
			return errs.Invalid("params.value", "is required")
		}
		out.Price = &PriceParams{TokenPair: p.TokenPair, ChainID: unwrapInt(p.ChainID), Value: *p.Value, Max: p.Max}
	case TypeTime:
		var p wireTime
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return errs.Invalid("params", "malformed time params: %v", err)
		}
		upper := p.Max
		if upper == nil {
			upper = p.Before
		}
		out.Time = &TimeParams{Timestamp: p.Timestamp, Max: upper}
	case TypeBalance:
		var p wireBalance
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return errs.Invalid("params", "malformed balance params: %v", err)
		}
		out.Balance = &BalanceParams{
			Token:   p.Token,
			ChainID: unwrapInt(p.ChainID),
			Value:   unwrapInt(p.Value),
			Max:     unwrapInt(p.Max),
		}
	case TypeCustom:
		var p wireCustom
		if err := json.Unmarshal(w.Params, &p); err != nil {
			return errs.Invalid("params", "malformed custom params: %v", err)
		}
		expected, err := decodeResult(p.ExpectedResult)
		if err != nil {
			return err
		}
		out.Custom = &CustomParams{
			Contract:       p.Contract,
			Function:       p.Function,
			ChainID:        unwrapInt(p.ChainID),
			ExpectedResult: expected,
		}
	default:
		return errs.Invalid("type", "unknown condition type %q", w.Type)
	}

	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}

func decodeResult(raw json.RawMessage) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Result{}, errs.Invalid("params.expectedResult", "is required")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Result{}, errs.Invalid("params.expectedResult", "%v", err)
		}
		return ParseResult(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Result{}, errs.Invalid("params.expectedResult", "%v", err)
		}
		return TextResult(fmt.Sprint(b)), nil
	default:
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return Result{}, errs.Invalid("params.expectedResult", "unsupported value %s", raw)
		}
		return NumericResult(d), nil
	}
}

func wrapInt(x *big.Int) *types.BigInt {
	if x == nil {
		return nil
	}
	b := types.NewBigInt(x)
	return &b
}

func unwrapInt(b *types.BigInt) *big.Int {
	if b == nil {
		return nil
	}
	return b.Int
}
