package condition

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestPriceBetween(t *testing.T) {
	c, err := Price(OpBetween, PriceParams{TokenPair: "ETH/USDC", Value: dec("10"), Max: decPtr("20")})
	require.NoError(t, err)

	tests := []struct {
		observed string
		want     bool
	}{
		{"15", true},
		{"9", false},
		{"10", true},
		{"20", true},
		{"20.0001", false},
	}
	for _, tt := range tests {
		t.Run(tt.observed, func(t *testing.T) {
			got, err := Evaluate(c, PriceObservation(dec(tt.observed)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBetweenRejectsInvertedBounds(t *testing.T) {
	_, err := Price(OpBetween, PriceParams{TokenPair: "ETH/USDC", Value: dec("20"), Max: decPtr("10")})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	_, err = Balance(OpBetween, BalanceParams{Token: "USDC", ChainID: big.NewInt(1), Value: big.NewInt(5), Max: big.NewInt(4)})
	assert.True(t, errs.IsValidation(err))

	upper := int64(1000)
	_, err = Time(OpBetween, TimeParams{Timestamp: 2000, Max: &upper})
	assert.True(t, errs.IsValidation(err))

	_, err = Price(OpBetween, PriceParams{TokenPair: "ETH/USDC", Value: dec("1")})
	assert.True(t, errs.IsValidation(err), "between without max")

	// evaluation of an inverted condition built by hand is still rejected
	inverted := Condition{Type: TypePrice, Operator: OpBetween, Price: &PriceParams{TokenPair: "X/Y", Value: dec("20"), Max: decPtr("10")}}
	ok, err := Evaluate(inverted, PriceObservation(dec("15")))
	assert.False(t, ok)
	assert.True(t, errs.IsValidation(err))
}

func TestOperators(t *testing.T) {
	tests := []struct {
		op       Operator
		observed int64
		want     bool
	}{
		{OpGT, 101, true},
		{OpGT, 100, false},
		{OpLT, 99, true},
		{OpLT, 100, false},
		{OpEQ, 100, true},
		{OpEQ, 101, false},
		{OpGTE, 100, true},
		{OpGTE, 99, false},
		{OpLTE, 100, true},
		{OpLTE, 101, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			c, err := Balance(tt.op, BalanceParams{Token: "USDC", ChainID: big.NewInt(1), Value: big.NewInt(100)})
			require.NoError(t, err)
			got, err := Evaluate(c, BalanceObservation(big.NewInt(tt.observed)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBalanceLargeValues(t *testing.T) {
	wei, _ := new(big.Int).SetString("1000000000000000000", 10)
	c, err := Balance(OpGTE, BalanceParams{Token: "ETH", ChainID: big.NewInt(1), Value: wei})
	require.NoError(t, err)

	// one wei below the threshold must not pass, which a float comparison would miss
	below := new(big.Int).Sub(wei, big.NewInt(1))
	ok, err := Evaluate(c, BalanceObservation(below))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate(c, BalanceObservation(wei))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimeCondition(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)

	c, err := Time(OpLTE, TimeParams{Timestamp: base.Add(time.Second).UnixMilli()})
	require.NoError(t, err)

	ok, err := Evaluate(c, TimeObservation(base))
	require.NoError(t, err)
	assert.False(t, ok, "deadline not reached yet")

	ok, err = Evaluate(c, TimeObservation(base.Add(1100*time.Millisecond)))
	require.NoError(t, err)
	assert.True(t, ok)

	upper := base.Add(time.Minute).UnixMilli()
	window, err := Time(OpBetween, TimeParams{Timestamp: base.UnixMilli(), Max: &upper})
	require.NoError(t, err)

	ok, _ = Evaluate(window, TimeObservation(base.Add(30*time.Second)))
	assert.True(t, ok)
	ok, _ = Evaluate(window, TimeObservation(base.Add(2*time.Minute)))
	assert.False(t, ok)
}

func TestCustomCondition(t *testing.T) {
	eq, err := Custom(OpEQ, CustomParams{Contract: "0xpool", Function: "paused", ChainID: big.NewInt(1), ExpectedResult: TextResult("false")})
	require.NoError(t, err)

	ok, err := Evaluate(eq, CustomObservation(TextResult("false")))
	require.NoError(t, err)
	assert.True(t, ok)

	gt, err := Custom(OpGT, CustomParams{Contract: "0xpool", Function: "liquidity", ChainID: big.NewInt(1), ExpectedResult: IntResult(big.NewInt(1000))})
	require.NoError(t, err)

	ok, err = Evaluate(gt, CustomObservation(ParseResult("1000.5")))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Evaluate(gt, CustomObservation(TextResult("lots")))
	assert.True(t, errs.IsValidation(err))

	_, err = Custom(OpGT, CustomParams{Contract: "0xpool", Function: "owner", ChainID: big.NewInt(1), ExpectedResult: TextResult("alice")})
	assert.True(t, errs.IsValidation(err), "ordering needs a numeric expected result")

	_, err = Custom(OpBetween, CustomParams{Contract: "0xpool", Function: "x", ChainID: big.NewInt(1), ExpectedResult: IntResult(big.NewInt(1))})
	assert.True(t, errs.IsValidation(err))
}

func TestEvaluateObservationMismatch(t *testing.T) {
	c, err := Price(OpGT, PriceParams{TokenPair: "ETH/USDC", Value: dec("1")})
	require.NoError(t, err)

	_, err = Evaluate(c, BalanceObservation(big.NewInt(5)))
	assert.True(t, errs.IsValidation(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Condition
	}{
		{name: "unknown operator", c: Condition{Type: TypePrice, Operator: "ne", Price: &PriceParams{TokenPair: "A/B"}}},
		{name: "unknown type", c: Condition{Type: "weather", Operator: OpGT, Price: &PriceParams{TokenPair: "A/B"}}},
		{name: "no params", c: Condition{Type: TypePrice, Operator: OpGT}},
		{name: "mismatched params", c: Condition{Type: TypeTime, Operator: OpGT, Price: &PriceParams{TokenPair: "A/B"}}},
		{name: "two params", c: Condition{Type: TypeTime, Operator: OpGT, Time: &TimeParams{Timestamp: 1}, Price: &PriceParams{TokenPair: "A/B"}}},
		{name: "missing pair", c: Condition{Type: TypePrice, Operator: OpGT, Price: &PriceParams{}}},
		{name: "zero timestamp", c: Condition{Type: TypeTime, Operator: OpGT, Time: &TimeParams{}}},
		{name: "balance without chain", c: Condition{Type: TypeBalance, Operator: OpGT, Balance: &BalanceParams{Token: "USDC", Value: big.NewInt(1)}}},
		{name: "balance without value", c: Condition{Type: TypeBalance, Operator: OpGT, Balance: &BalanceParams{Token: "USDC", ChainID: big.NewInt(1)}}},
		{name: "custom without expected", c: Condition{Type: TypeCustom, Operator: OpEQ, Custom: &CustomParams{Contract: "c", Function: "f", ChainID: big.NewInt(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestClone(t *testing.T) {
	c, err := Balance(OpBetween, BalanceParams{Token: "USDC", ChainID: big.NewInt(1), Value: big.NewInt(1), Max: big.NewInt(9)})
	require.NoError(t, err)

	cp := CloneAll([]Condition{c})
	cp[0].Balance.Max.SetInt64(100)
	cp[0].Balance.Token = "DAI"

	assert.Equal(t, int64(9), c.Balance.Max.Int64())
	assert.Equal(t, "USDC", c.Balance.Token)
	assert.Nil(t, CloneAll(nil))
}
