// internal/condition/result.go

package condition

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Result is the value a custom condition expects from, or observes on, a
// contract call: either a number or opaque text.
type Result struct {
	num  *decimal.Decimal
	text string
}

// NumericResult wraps a decimal number.
func NumericResult(d decimal.Decimal) Result {
	return Result{num: &d}
}

// IntResult wraps an integer without loss of precision.
func IntResult(x *big.Int) Result {
	return NumericResult(decimal.NewFromBigInt(x, 0))
}

// TextResult wraps an opaque string.
func TextResult(s string) Result {
	return Result{text: s}
}

// ParseResult treats s as a number when it parses as one and as text otherwise.
func ParseResult(s string) Result {
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		return NumericResult(d)
	}
	return TextResult(s)
}

func (r Result) Numeric() bool {
	return r.num != nil
}

func (r Result) IsZero() bool {
	return r.num == nil && r.text == ""
}

func (r Result) String() string {
	if r.num != nil {
		return r.num.String()
	}
	return r.text
}

// Equal compares numerically when both sides are numbers and textually otherwise.
func (r Result) Equal(other Result) bool {
	if r.num != nil && other.num != nil {
		return r.num.Equal(*other.num)
	}
	return r.String() == other.String()
}

// Compare orders two numeric results.
func (r Result) Compare(other Result) (int, error) {
	if r.num == nil || other.num == nil {
		return 0, fmt.Errorf("cannot order %q and %q: both results must be numeric", r.String(), other.String())
	}
	return r.num.Cmp(*other.num), nil
}
