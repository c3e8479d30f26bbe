// internal/address/address.go

// Package address normalizes the account addresses the engine accepts: EVM
// hex addresses and Solana base58 public keys.
package address

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

// Kind identifies the address family.
type Kind string

const (
	KindEVM    Kind = "evm"
	KindSolana Kind = "solana"
)

// Parse validates addr and returns its canonical form: EIP-55 checksummed hex
// for EVM, base58 for Solana.
func Parse(addr string) (string, Kind, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", errs.Invalid("address", "is required")
	}
	if isHex(addr) {
		if !common.IsHexAddress(addr) {
			return "", "", errs.Invalid("address", "%q is not a valid hex address", addr)
		}
		return common.HexToAddress(addr).Hex(), KindEVM, nil
	}
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return "", "", errs.Invalid("address", "%q is neither a hex address nor a base58 public key", addr)
	}
	return pk.String(), KindSolana, nil
}

// Normalize returns the canonical form of addr.
func Normalize(addr string) (string, error) {
	out, _, err := Parse(addr)
	return out, err
}

// Valid reports whether addr parses.
func Valid(addr string) bool {
	_, _, err := Parse(addr)
	return err == nil
}

// Key is the index key for an address. Hex addresses compare without case;
// base58 keys are case-sensitive and keep their canonical form.
func Key(addr string) string {
	addr = strings.TrimSpace(addr)
	canonical, kind, err := Parse(addr)
	switch {
	case err != nil && isHex(addr):
		return strings.ToLower(addr)
	case err != nil:
		return addr
	case kind == KindEVM:
		return strings.ToLower(canonical)
	default:
		return canonical
	}
}

func isHex(addr string) bool {
	return strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X")
}
