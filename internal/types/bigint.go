// internal/types/bigint.go

// Package types holds value types that cross the engine's boundaries.
package types

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"

	"gopkg.in/yaml.v3"
)

// BigInt is an arbitrary-precision integer that travels as decimal text: a
// quoted string in JSON, numeric text in SQL. Decimal and 0x-hex input are both
// accepted, with no width limit. A nil Int means the value is absent.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps x without copying it.
func NewBigInt(x *big.Int) BigInt {
	return BigInt{Int: x}
}

// BigIntFromInt64 builds a BigInt from a machine integer.
func BigIntFromInt64(x int64) BigInt {
	return BigInt{Int: big.NewInt(x)}
}

// ParseBigInt parses decimal or 0x-prefixed hex text.
func ParseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	var (
		v  *big.Int
		ok bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		v, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// MustBigInt parses s and panics on failure. Intended for constants and tests.
func MustBigInt(s string) BigInt {
	v, err := ParseBigInt(s)
	if err != nil {
		panic(err)
	}
	return BigInt{Int: v}
}

// IsNil reports whether the value is absent.
func (b BigInt) IsNil() bool {
	return b.Int == nil
}

// Copy returns a deep copy.
func (b BigInt) Copy() BigInt {
	if b.Int == nil {
		return BigInt{}
	}
	return BigInt{Int: new(big.Int).Set(b.Int)}
}

func (b BigInt) String() string {
	if b.Int == nil {
		return ""
	}
	return b.Int.String()
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte("null"), nil
	}
	return []byte(`"` + b.Int.String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		b.Int = nil
		return nil
	}
	v, err := ParseBigInt(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	b.Int = v
	return nil
}

func (b *BigInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: integer must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		b.Int = nil
		return nil
	}
	v, err := ParseBigInt(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	b.Int = v
	return nil
}

// Value stores the integer as numeric text.
func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return nil, nil
	}
	return b.Int.String(), nil
}

// Scan reads numeric columns returned as text, bytes or machine integers.
func (b *BigInt) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		b.Int = nil
		return nil
	case int64:
		b.Int = big.NewInt(v)
		return nil
	case []byte:
		return b.scanText(string(v))
	case string:
		return b.scanText(v)
	default:
		return fmt.Errorf("cannot scan %T into BigInt", src)
	}
}

func (b *BigInt) scanText(s string) error {
	// numeric may come back with a trailing ".0" on some drivers
	s = strings.TrimSuffix(s, ".0")
	v, err := ParseBigInt(s)
	if err != nil {
		return err
	}
	b.Int = v
	return nil
}
