// internal/solver/config.go

// Package solver supervises long-running solver workers and keeps their
// lifecycle state and trading statistics.
package solver

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/rovshanmuradov/solver-engine/internal/address"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

const (
	DefaultHealthcheckListenAddr = "0.0.0.0"
	DefaultHealthcheckPort       = 8081
	DefaultLogLevel              = "info"
	DefaultMaxRisk               = 0.5
)

// DefaultMinSolverFee is the smallest fee, in base units, a solver accepts by default.
func DefaultMinSolverFee() *big.Int {
	return big.NewInt(10_000_000_000_000_000)
}

type AgentConfig struct {
	HealthcheckListenAddr string `json:"healthcheck_listen_addr" yaml:"healthcheck_listen_addr"`
	HealthcheckPort       int    `json:"healthcheck_port" yaml:"healthcheck_port"`
	LogLevel              string `json:"log_level" yaml:"log_level"`
	LogJSON               bool   `json:"log_json" yaml:"log_json"`
}

type NetworkConfig struct {
	ChainID          uint64   `json:"chain_id" yaml:"chain_id"`
	RPCURL           string   `json:"rpc_url" yaml:"rpc_url"`
	Tokens           []string `json:"tokens" yaml:"tokens"`
	RouterAddress    string   `json:"router_address" yaml:"router_address"`
	TxGasBuffer      int      `json:"tx_gas_buffer" yaml:"tx_gas_buffer"`
	TxGasPriceBuffer int      `json:"tx_gas_price_buffer" yaml:"tx_gas_price_buffer"`
}

// Config describes one solver. ID is optional on creation. Enabled, CreatedAt
// and StartedAt are owned by the supervisor.
type Config struct {
	ID           string          `json:"id,omitempty" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Agent        AgentConfig     `json:"agent" yaml:"agent"`
	Networks     []NetworkConfig `json:"networks" yaml:"networks"`
	UseV2        *bool           `json:"useV2,omitempty" yaml:"use_v2"`
	MaxRisk      float64         `json:"maxRisk" yaml:"max_risk"`
	MinSolverFee types.BigInt    `json:"minSolverFee" yaml:"min_solver_fee"`

	Enabled   bool       `json:"enabled" yaml:"-"`
	CreatedAt time.Time  `json:"createdAt" yaml:"-"`
	StartedAt *time.Time `json:"startedAt,omitempty" yaml:"-"`
}

// UsesV2 reports the effective UseV2 setting.
func (c Config) UsesV2() bool {
	return c.UseV2 == nil || *c.UseV2
}

// Supports reports whether the solver is configured for chainID.
func (c Config) Supports(chainID *big.Int) bool {
	if chainID == nil || !chainID.IsUint64() {
		return false
	}
	for _, n := range c.Networks {
		if n.ChainID == chainID.Uint64() {
			return true
		}
	}
	return false
}

// Accepts reports whether fee meets the solver's minimum.
func (c Config) Accepts(fee *big.Int) bool {
	if c.MinSolverFee.IsNil() {
		return true
	}
	return fee != nil && fee.Cmp(c.MinSolverFee.Int) >= 0
}

// WithDefaults fills unset optional fields. A zero MaxRisk means unset.
func (c Config) WithDefaults() Config {
	if c.Agent.HealthcheckListenAddr == "" {
		c.Agent.HealthcheckListenAddr = DefaultHealthcheckListenAddr
	}
	if c.Agent.HealthcheckPort == 0 {
		c.Agent.HealthcheckPort = DefaultHealthcheckPort
	}
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = DefaultLogLevel
	}
	if c.UseV2 == nil {
		v := true
		c.UseV2 = &v
	}
	if c.MaxRisk == 0 {
		c.MaxRisk = DefaultMaxRisk
	}
	if c.MinSolverFee.IsNil() {
		c.MinSolverFee = types.NewBigInt(DefaultMinSolverFee())
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errs.Invalid("name", "is required")
	}
	if len(c.Networks) == 0 {
		return errs.Invalid("networks", "at least one network is required")
	}
	for i, n := range c.Networks {
		if err := n.validate(); err != nil {
			var ve *errs.ValidationError
			if errors.As(err, &ve) {
				return errs.Invalid(fmt.Sprintf("networks[%d].%s", i, ve.Field), "%s", ve.Reason)
			}
			return err
		}
	}
	if c.MaxRisk < 0 || c.MaxRisk > 1 {
		return errs.Invalid("maxRisk", "must be within [0, 1], got %v", c.MaxRisk)
	}
	if !c.MinSolverFee.IsNil() && c.MinSolverFee.Sign() < 0 {
		return errs.Invalid("minSolverFee", "must not be negative")
	}
	if c.Agent.HealthcheckPort < 0 || c.Agent.HealthcheckPort > 65535 {
		return errs.Invalid("agent.healthcheck_port", "must be a valid port, got %d", c.Agent.HealthcheckPort)
	}
	switch c.Agent.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errs.Invalid("agent.log_level", "unknown level %q", c.Agent.LogLevel)
	}
	return nil
}

func (n NetworkConfig) validate() error {
	if n.ChainID == 0 {
		return errs.Invalid("chain_id", "is required")
	}
	if strings.TrimSpace(n.RPCURL) == "" {
		return errs.Invalid("rpc_url", "is required")
	}
	u, err := url.Parse(n.RPCURL)
	if err != nil || u.Host == "" {
		return errs.Invalid("rpc_url", "%q is not a valid URL", n.RPCURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errs.Invalid("rpc_url", "unsupported scheme %q", u.Scheme)
	}
	if n.RouterAddress != "" && !address.Valid(n.RouterAddress) {
		return errs.Invalid("router_address", "%q is not a valid address", n.RouterAddress)
	}
	for _, tok := range n.Tokens {
		if strings.TrimSpace(tok) == "" {
			return errs.Invalid("tokens", "must not contain empty entries")
		}
	}
	if n.TxGasBuffer < 0 || n.TxGasPriceBuffer < 0 {
		return errs.Invalid("tx_gas_buffer", "buffers must not be negative")
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Networks != nil {
		out.Networks = make([]NetworkConfig, len(c.Networks))
		for i, n := range c.Networks {
			n.Tokens = append([]string(nil), n.Tokens...)
			out.Networks[i] = n
		}
	}
	if c.UseV2 != nil {
		v := *c.UseV2
		out.UseV2 = &v
	}
	out.MinSolverFee = c.MinSolverFee.Copy()
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	return out
}
